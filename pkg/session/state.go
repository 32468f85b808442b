package session

import (
	"crypto/rsa"
	"time"
)

// State is the coarse position of a session in the handshake.
type State int

// Session states, in handshake order.
const (
	StateNoKeypair State = iota
	StateKeypairReady
	StateInstalled
	StateDeviceRegistered
	StateSessionActive
	StateSessionExpired
)

func (s State) String() string {
	switch s {
	case StateNoKeypair:
		return "no_keypair"
	case StateKeypairReady:
		return "keypair_ready"
	case StateInstalled:
		return "installed"
	case StateDeviceRegistered:
		return "device_registered"
	case StateSessionActive:
		return "session_active"
	case StateSessionExpired:
		return "session_expired"
	default:
		return "unknown"
	}
}

// LoadOutcome reports what LoadSession found in the store.
type LoadOutcome int

const (
	// LoadNotFound means no blob was stored, or the store could not be read.
	LoadNotFound LoadOutcome = iota

	// LoadRestored means the stored state was accepted and restored.
	LoadRestored

	// LoadCorrupted means a blob was present but could not be decrypted
	// or parsed, or its IV was missing.
	LoadCorrupted

	// LoadMismatch means the blob belongs to another API key or
	// environment.
	LoadMismatch

	// LoadSessionInvalid means installation and device were restored but
	// the API session was expired or absent and has been dropped.
	LoadSessionInvalid
)

func (o LoadOutcome) String() string {
	switch o {
	case LoadNotFound:
		return "not_found"
	case LoadRestored:
		return "restored"
	case LoadCorrupted:
		return "corrupted"
	case LoadMismatch:
		return "mismatch"
	case LoadSessionInvalid:
		return "session_invalid"
	default:
		return "unknown"
	}
}

// Usable reports whether the load restored a state the caller can keep
// using without a fresh keypair.
func (o LoadOutcome) Usable() bool {
	return o == LoadRestored
}

// keyPair is the client keypair with its PEM forms.
type keyPair struct {
	private    *rsa.PrivateKey
	publicPEM  string
	privatePEM string
}

// Installation is the result of the install handshake step.
type Installation struct {
	Token              string
	ServerPublicKey    *rsa.PublicKey
	ServerPublicKeyPEM string
	Created            time.Time
	Updated            time.Time
}

// Device is the result of device registration.
type Device struct {
	ID int64
}

// APISession is the short-lived authenticated context.
type APISession struct {
	ID        int64
	Token     string
	TokenID   string
	Timeout   int64 // seconds
	ExpiresAt time.Time
	UserInfo  *UserInfo
}

// Expired reports whether the session is past its expiry at now. The
// boundary is strict: a session expiring exactly at now is expired.
func (a *APISession) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// chain holds installation <- device <- session. A link can only be
// attached on top of its prerequisite and dropping a link drops every
// link above it, so a session without a device cannot be represented.
type chain struct {
	installation *Installation
	device       *Device
	session      *APISession
}

// attachInstallation sets a new installation. Device and session belong
// to the previous installation and are dropped.
func (c *chain) attachInstallation(i *Installation) {
	c.installation = i
	c.device = nil
	c.session = nil
}

func (c *chain) attachDevice(d *Device) error {
	if c.installation == nil {
		return ErrHandshakeOrder.WithDetails("device registration requires an installation")
	}
	c.device = d
	c.session = nil
	return nil
}

func (c *chain) attachSession(s *APISession) error {
	if c.device == nil {
		return ErrHandshakeOrder.WithDetails("session creation requires a registered device")
	}
	c.session = s
	return nil
}

func (c *chain) dropSession() {
	c.session = nil
}

func (c *chain) dropDevice() {
	c.device = nil
	c.session = nil
}

func (c *chain) dropInstallation() {
	*c = chain{}
}

func (c *chain) state(hasKeys bool, now time.Time) State {
	switch {
	case c.session != nil && c.session.Expired(now):
		return StateSessionExpired
	case c.session != nil:
		return StateSessionActive
	case c.device != nil:
		return StateDeviceRegistered
	case c.installation != nil:
		return StateInstalled
	case hasKeys:
		return StateKeypairReady
	default:
		return StateNoKeypair
	}
}
