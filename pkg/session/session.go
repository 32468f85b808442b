package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/yndnr/bunqsession-go/pkg/crypto/kdf"
	"github.com/yndnr/bunqsession-go/pkg/crypto/rsakey"
	"github.com/yndnr/bunqsession-go/pkg/crypto/symmetric"
	"github.com/yndnr/bunqsession-go/pkg/storage"
)

// Session holds the credentials, keypair and handshake state for one API
// key, and persists them encrypted through a storage.Store.
//
// Mutating operations are serialised by an internal lock. Predicates and
// accessors take a read lock and may run concurrently with each other.
type Session struct {
	mu sync.RWMutex

	store      storage.Store
	logger     Logger
	metrics    Metrics
	now        func() time.Time
	cipherType symmetric.CipherType
	keyBits    int
	keygen     keyGenerator

	apiKey           string
	apiKeyIdentifier string
	allowedIPs       []string
	environment      Environment
	encryptionKey    []byte

	keys  *keyPair
	chain chain

	location StorageKeys
	// stale is the namespace abandoned by an environment change. Its blob
	// is removed on the next load.
	stale    *StorageKeys
	lastLoad LoadOutcome
}

// New creates a Session on store in the SANDBOX environment. The caller
// keeps ownership of store.
func New(store storage.Store, opts ...Option) *Session {
	s := &Session{store: store}
	defaults(s)
	for _, opt := range opts {
		opt(s)
	}
	s.setEnvironmentLocked(EnvSandbox)
	return s
}

// SetupParams are the inputs to Setup.
type SetupParams struct {
	APIKey     string
	AllowedIPs []string

	// Environment defaults to SANDBOX.
	Environment string

	// EncryptionKey protects the persisted state. Without it the session
	// runs keyless: nothing is loaded, stored or generated.
	EncryptionKey []byte

	// KeyBits overrides the default RSA key size for a fresh keypair.
	KeyBits int
}

// Setup establishes or restores the context needed before a signed request
// can be made. It returns false without error when no encryption key is
// given, and true once a keypair is loaded or generated.
//
// Setup may be called repeatedly. A different API key or environment
// discards the in-memory installation, device and session state first.
func (s *Session) Setup(ctx context.Context, p SetupParams) (bool, error) {
	name := p.Environment
	if name == "" {
		name = string(EnvSandbox)
	}
	env, err := ParseEnvironment(name)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.apiKey != "" && s.apiKey != p.APIKey {
		s.logger.Debug("api key changed")
	}
	id := s.apiKeyIdentifier
	if p.APIKey != "" {
		id = kdf.APIKeyIdentifier(p.APIKey)
	}
	if env != s.environment && p.APIKey != "" {
		s.logger.Debug("environment changed, discarding installation",
			"from", s.environment, "to", env)
		// Only the same credential's old namespace is purged. Another
		// key's blob is left alone.
		if s.apiKeyIdentifier != "" && s.apiKeyIdentifier == id {
			prev := s.location
			s.stale = &prev
		}
		s.destroyInstallationMemoryLocked()
	}

	if p.APIKey != "" {
		if s.apiKeyIdentifier != "" && s.apiKeyIdentifier != id {
			s.logger.Debug("api key identifier changed, discarding installation")
			s.stale = nil
			s.destroyInstallationMemoryLocked()
		}
		s.apiKeyIdentifier = id
	}

	s.apiKey = p.APIKey
	s.allowedIPs = slices.Clone(p.AllowedIPs)
	s.setEnvironmentLocked(env)

	if len(p.EncryptionKey) == 0 {
		return false, nil
	}
	if err := s.checkEncryptionKey(p.EncryptionKey); err != nil {
		return false, err
	}
	s.encryptionKey = slices.Clone(p.EncryptionKey)

	if _, err := s.loadSessionLocked(ctx); err != nil {
		return false, err
	}
	// A restored blob normally carries the keypair, in which case this
	// is a no-op.
	if err := s.setupKeypairLocked(ctx, false, p.KeyBits); err != nil {
		return false, err
	}
	return true, nil
}

// SetEncryptionKey replaces the encryption key and re-stores the session
// under it.
func (s *Session) SetEncryptionKey(ctx context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkEncryptionKey(key); err != nil {
		return err
	}
	s.encryptionKey = slices.Clone(key)

	_, err := s.storeSessionLocked(ctx)
	return err
}

func (s *Session) checkEncryptionKey(key []byte) error {
	if !symmetric.ValidateKey(key) {
		return ErrInvalidEncryptionKey.WithDetails(
			fmt.Sprintf("got %d bytes, want 16, 24 or 32", len(key)))
	}
	if _, err := symmetric.NewWithType(key, s.cipherType); err != nil {
		return ErrInvalidEncryptionKey.WithCause(err).WithDetails(
			fmt.Sprintf("rejected by %s", s.cipherType))
	}
	return nil
}

// SetupKeypair generates a client keypair of bits size (0 selects the
// default). With an existing keypair it is a no-op unless force is set.
//
// Generation honours ctx. A cancelled generation leaves the previous
// keypair in place. Replacing a keypair drops the installation, which
// was bound to the old public key.
func (s *Session) SetupKeypair(ctx context.Context, force bool, bits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setupKeypairLocked(ctx, force, bits)
}

func (s *Session) setupKeypairLocked(ctx context.Context, force bool, bits int) error {
	if !force && s.keys != nil {
		return nil
	}
	if bits == 0 {
		bits = s.keyBits
	}

	start := time.Now()
	priv, err := s.keygen(ctx, bits)
	s.metrics.ObserveKeyGeneration(time.Since(start), err)
	if err != nil {
		return fmt.Errorf("session: generate keypair: %w", err)
	}
	pubPEM, privPEM, err := rsakey.KeyPairToPEM(priv)
	if err != nil {
		return fmt.Errorf("session: encode keypair: %w", err)
	}

	if s.keys != nil && s.chain.installation != nil {
		s.logger.Debug("keypair replaced, dropping installation")
		s.chain.dropInstallation()
	}
	s.keys = &keyPair{private: priv, publicPEM: pubPEM, privatePEM: privPEM}
	s.logger.Debug("keypair ready", "bits", bits, "elapsed", time.Since(start))
	return nil
}

// SetEnvironment switches the environment and recomputes the base URL and
// storage keys. An unknown name leaves the session untouched.
func (s *Session) SetEnvironment(name string) error {
	env, err := ParseEnvironment(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setEnvironmentLocked(env)
	return nil
}

func (s *Session) setEnvironmentLocked(env Environment) {
	s.environment = env
	s.location = storageKeysFor(env, s.apiKeyIdentifier)
}

// ============================================================================
// Predicates
// ============================================================================

// VerifyInstallation reports whether the install step has completed.
func (s *Session) VerifyInstallation() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifyInstallationLocked()
}

func (s *Session) verifyInstallationLocked() bool {
	in := s.chain.installation
	valid := in != nil && in.ServerPublicKey != nil && in.Token != ""
	if valid {
		s.logger.Debug("installation valid", "install_token", shortToken(in.Token))
	} else {
		s.logger.Debug("installation invalid")
	}
	return valid
}

// VerifyDeviceInstallation reports whether a device is registered.
func (s *Session) VerifyDeviceInstallation() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifyDeviceLocked()
}

func (s *Session) verifyDeviceLocked() bool {
	valid := s.chain.device != nil
	if valid {
		s.logger.Debug("device valid", "device_id", s.chain.device.ID)
	} else {
		s.logger.Debug("device invalid")
	}
	return valid
}

// VerifySessionInstallation reports whether an API session exists and has
// not expired.
func (s *Session) VerifySessionInstallation() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifySessionLocked()
}

func (s *Session) verifySessionLocked() bool {
	if s.chain.session == nil || s.chain.session.ID == 0 {
		s.logger.Debug("session invalid: no session id")
		return false
	}
	return s.verifyExpiryLocked()
}

// VerifySessionExpiry reports whether the API session is still within
// its lifetime. A session is expired once now >= expiry; there is no
// grace period for clock skew.
func (s *Session) VerifySessionExpiry() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifyExpiryLocked()
}

func (s *Session) verifyExpiryLocked() bool {
	as := s.chain.session
	if as == nil {
		return false
	}
	now := s.now()
	if as.Expired(now) {
		s.logger.Debug("session invalid: expired",
			"expires_at", as.ExpiresAt, "now", now)
		return false
	}
	return true
}

// ============================================================================
// Accessors
// ============================================================================

// User returns the user attached to the API session.
func (s *Session) User() (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.chain.session == nil || s.chain.session.UserInfo == nil {
		return nil, ErrNoUserInfo
	}
	return s.chain.session.UserInfo.User()
}

// UserID returns the id of the user attached to the API session.
func (s *Session) UserID() (int64, error) {
	u, err := s.User()
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

// APIKey returns the configured API key.
func (s *Session) APIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey
}

// APIKeyIdentifier returns the storage identifier derived from the API key.
func (s *Session) APIKeyIdentifier() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKeyIdentifier
}

// AllowedIPs returns a copy of the permitted IP list.
func (s *Session) AllowedIPs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.allowedIPs)
}

// Environment returns the active environment.
func (s *Session) Environment() Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.environment
}

// BaseURL returns the API base URL of the active environment.
func (s *Session) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.environment.BaseURL()
}

// StorageKeys returns where the session blob and its IV are stored.
func (s *Session) StorageKeys() StorageKeys {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.location
}

// HasEncryptionKey reports whether persistence is enabled.
func (s *Session) HasEncryptionKey() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.encryptionKey) > 0
}

// PublicKeyPEM returns the client public key, or "" without a keypair.
func (s *Session) PublicKeyPEM() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keys == nil {
		return ""
	}
	return s.keys.publicPEM
}

// Installation returns a copy of the installation state.
func (s *Session) Installation() (Installation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.chain.installation == nil {
		return Installation{}, false
	}
	return *s.chain.installation, true
}

// Device returns a copy of the device state.
func (s *Session) Device() (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.chain.device == nil {
		return Device{}, false
	}
	return *s.chain.device, true
}

// APISession returns a copy of the API session state.
func (s *Session) APISession() (APISession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.chain.session == nil {
		return APISession{}, false
	}
	return *s.chain.session, true
}

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chain.state(s.keys != nil, s.now())
}

// LastLoad returns the outcome of the most recent load.
func (s *Session) LastLoad() LoadOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastLoad
}
