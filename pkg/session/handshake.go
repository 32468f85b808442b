package session

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/bunqsession-go/pkg/crypto/rsakey"
)

// InstallationResult is what the install step returns.
type InstallationResult struct {
	Token              string
	ServerPublicKeyPEM string
	Created            time.Time
	Updated            time.Time
}

// DeviceRequest is the payload of a device registration.
type DeviceRequest struct {
	Description  string
	Secret       string
	PermittedIPs []string
}

// SessionResult is what session creation returns.
type SessionResult struct {
	ID      int64
	Token   string
	TokenID string

	// Timeout is the session lifetime in seconds.
	Timeout int64

	// ExpiresAt is computed from Timeout when zero.
	ExpiresAt time.Time

	User *UserInfo
}

// Transport performs the three handshake calls. The HTTP layer
// implements it; the session only validates and stores the results.
type Transport interface {
	CreateInstallation(ctx context.Context, clientPublicKeyPEM string) (InstallationResult, error)
	RegisterDevice(ctx context.Context, req DeviceRequest) (int64, error)
	CreateSession(ctx context.Context, secret string) (SessionResult, error)
}

// ApplyInstallation stores the install step result and persists. It
// replaces any previous installation along with its device and session.
func (s *Session) ApplyInstallation(ctx context.Context, res InstallationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys == nil {
		return ErrNoKeypair.WithDetails("installation needs a client keypair")
	}
	if res.Token == "" {
		return ErrHandshakeOrder.WithDetails("installation result has no token")
	}
	pub, err := rsakey.PublicKeyFromPEM(res.ServerPublicKeyPEM)
	if err != nil {
		return fmt.Errorf("session: server public key: %w", err)
	}

	s.chain.attachInstallation(&Installation{
		Token:              res.Token,
		ServerPublicKey:    pub,
		ServerPublicKeyPEM: res.ServerPublicKeyPEM,
		Created:            res.Created,
		Updated:            res.Updated,
	})
	_, err = s.storeSessionLocked(ctx)
	return err
}

// ApplyDeviceRegistration stores the registered device id and persists.
func (s *Session) ApplyDeviceRegistration(ctx context.Context, deviceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.chain.attachDevice(&Device{ID: deviceID}); err != nil {
		return err
	}
	_, err := s.storeSessionLocked(ctx)
	return err
}

// ApplySessionCreation stores the created API session and persists.
func (s *Session) ApplySessionCreation(ctx context.Context, res SessionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires := res.ExpiresAt
	if expires.IsZero() {
		expires = s.now().Add(time.Duration(res.Timeout) * time.Second)
	}
	err := s.chain.attachSession(&APISession{
		ID:        res.ID,
		Token:     res.Token,
		TokenID:   res.TokenID,
		Timeout:   res.Timeout,
		ExpiresAt: expires,
		UserInfo:  res.User,
	})
	if err != nil {
		return err
	}
	_, err = s.storeSessionLocked(ctx)
	return err
}

// Handshake runs the handshake steps that are still missing: install,
// then device registration, then session creation. Completed steps are
// skipped, and each result is persisted before the next call.
//
// The session lock is not held during transport calls, so t may sign
// requests through this Session.
func (s *Session) Handshake(ctx context.Context, t Transport, description string) error {
	id := ulid.Make().String()

	s.mu.RLock()
	publicPEM := ""
	if s.keys != nil {
		publicPEM = s.keys.publicPEM
	}
	installed := s.chain.installation != nil
	registered := s.chain.device != nil
	active := s.chain.session != nil && !s.chain.session.Expired(s.now())
	apiKey := s.apiKey
	ips := slices.Clone(s.allowedIPs)
	s.mu.RUnlock()

	if publicPEM == "" {
		return ErrNoKeypair.WithDetails("run Setup with an encryption key first")
	}
	s.logger.Debug("handshake started",
		"handshake_id", id,
		"installed", installed,
		"registered", registered,
		"active", active)

	if !installed {
		res, err := t.CreateInstallation(ctx, publicPEM)
		if err == nil {
			err = s.ApplyInstallation(ctx, res)
		}
		s.metrics.ObserveHandshakeStep("installation", err)
		if err != nil {
			return fmt.Errorf("session: handshake %s: installation: %w", id, err)
		}
		registered, active = false, false
	}

	if !registered {
		deviceID, err := t.RegisterDevice(ctx, DeviceRequest{
			Description:  description,
			Secret:       apiKey,
			PermittedIPs: ips,
		})
		if err == nil {
			err = s.ApplyDeviceRegistration(ctx, deviceID)
		}
		s.metrics.ObserveHandshakeStep("device", err)
		if err != nil {
			return fmt.Errorf("session: handshake %s: device registration: %w", id, err)
		}
		active = false
	}

	if !active {
		res, err := t.CreateSession(ctx, apiKey)
		if err == nil {
			err = s.ApplySessionCreation(ctx, res)
		}
		s.metrics.ObserveHandshakeStep("session", err)
		if err != nil {
			return fmt.Errorf("session: handshake %s: session creation: %w", id, err)
		}
	}

	s.logger.Debug("handshake finished", "handshake_id", id)
	return nil
}
