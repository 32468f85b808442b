package session

import (
	"fmt"
	"strings"
)

// Environment selects the API the session talks to.
type Environment string

// Supported environments.
const (
	EnvSandbox    Environment = "SANDBOX"
	EnvProduction Environment = "PRODUCTION"
)

var baseURLs = map[Environment]string{
	EnvSandbox:    "https://public-api.sandbox.bunq.com",
	EnvProduction: "https://api.bunq.com",
}

// Environments returns the allow-list in a stable order.
func Environments() []Environment {
	return []Environment{EnvSandbox, EnvProduction}
}

// ParseEnvironment validates name against the allow-list. Names are
// case-sensitive, matching the stored blob format.
func ParseEnvironment(name string) (Environment, error) {
	env := Environment(name)
	if _, ok := baseURLs[env]; !ok {
		return "", ErrInvalidEnvironment.WithDetails(
			fmt.Sprintf("%q, allowed: %s", name, allowedList()))
	}
	return env, nil
}

// Valid reports whether e is on the allow-list.
func (e Environment) Valid() bool {
	_, ok := baseURLs[e]
	return ok
}

// BaseURL returns the API root for e, or "" for an unknown environment.
func (e Environment) BaseURL() string {
	return baseURLs[e]
}

func (e Environment) String() string {
	return string(e)
}

func allowedList() string {
	names := make([]string, 0, len(baseURLs))
	for _, env := range Environments() {
		names = append(names, string(env))
	}
	return strings.Join(names, ", ")
}

// storageKeyPrefix namespaces every key the session writes.
const storageKeyPrefix = "BUNQJSCLIENT_"

// StorageKeys are the two store locations of a persisted session.
type StorageKeys struct {
	Session string
	IV      string
}

func storageKeysFor(env Environment, identifier string) StorageKeys {
	return StorageKeys{
		Session: storageKeyPrefix + string(env) + "_SESSION_" + identifier,
		IV:      storageKeyPrefix + string(env) + "_IV_" + identifier,
	}
}

// ivLocation is the sibling key holding the IV of an auxiliary blob.
func ivLocation(location string) string {
	return location + "_IV"
}
