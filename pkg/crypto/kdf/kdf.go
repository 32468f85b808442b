// Package kdf derives deterministic, non-reversible identifiers from
// password-like secrets with PBKDF2.
//
// The output is used to namespace storage entries. It is never used as an
// encryption key.
package kdf

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeyLength is the derived key length in bytes.
	KeyLength = 32

	// IdentifierIterations is the fixed iteration count for API key
	// identifiers. Changing it changes every storage location.
	IdentifierIterations = 10000

	identifierSplit = 8
)

// DerivedKey is the result of Derive.
type DerivedKey struct {
	Key        string // hex encoded
	Salt       string
	Iterations int
}

// Derive runs PBKDF2-HMAC-SHA256 over secret and salt. Equal inputs always
// produce the same key.
func Derive(secret, salt string, iterations int) DerivedKey {
	if iterations < 1 {
		iterations = 1
	}
	raw := pbkdf2.Key([]byte(secret), []byte(salt), iterations, KeyLength, sha256.New)
	return DerivedKey{
		Key:        hex.EncodeToString(raw),
		Salt:       salt,
		Iterations: iterations,
	}
}

// APIKeyIdentifier derives the storage identifier for an API key: the first
// eight characters are the secret, the next eight the salt.
//
// Only the first 16 characters take part, so keys sharing that prefix map to
// the same identifier. This is kept for compatibility with existing stores.
func APIKeyIdentifier(apiKey string) string {
	secret, salt := splitPrefix(apiKey)
	return Derive(secret, salt, IdentifierIterations).Key
}

// splitPrefix returns apiKey[0:8] and apiKey[8:16], clamped to its length.
// Offsets are bytes. API keys are ASCII, so this matches a character split.
func splitPrefix(apiKey string) (string, string) {
	end := len(apiKey)
	if end > 2*identifierSplit {
		end = 2 * identifierSplit
	}
	if end <= identifierSplit {
		return apiKey[:end], ""
	}
	return apiKey[:identifierSplit], apiKey[identifierSplit:end]
}
