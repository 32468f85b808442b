package session

import (
	"fmt"
	"time"

	"github.com/yndnr/bunqsession-go/pkg/crypto/rsakey"
)

// record is the persisted form of a session. Field names and null
// handling follow the bunqJSClient blob layout. The API key identifier
// and parsed key objects are never persisted.
type record struct {
	Environment        Environment `json:"environment"`
	APIKey             *string     `json:"apiKey"`
	PublicKeyPEM       *string     `json:"publicKeyPem"`
	PrivateKeyPEM      *string     `json:"privateKeyPem"`
	ServerPublicKeyPEM *string     `json:"serverPublicKeyPem"`
	InstallUpdated     *time.Time  `json:"installUpdated"`
	InstallCreated     *time.Time  `json:"installCreated"`
	InstallToken       *string     `json:"installToken"`
	SessionID          *int64      `json:"sessionId"`
	SessionToken       *string     `json:"sessionToken"`
	SessionExpiryTime  *time.Time  `json:"sessionExpiryTime"`
	SessionTimeout     *int64      `json:"sessionTimeout"`
	UserInfo           *UserInfo   `json:"userInfo"`
	DeviceID           *int64      `json:"deviceId"`
}

// snapshotLocked captures the persisted field set. Caller holds s.mu.
func (s *Session) snapshotLocked() record {
	rec := record{
		Environment: s.environment,
		APIKey:      nullable(s.apiKey),
	}
	if s.keys != nil {
		rec.PublicKeyPEM = nullable(s.keys.publicPEM)
		rec.PrivateKeyPEM = nullable(s.keys.privatePEM)
	}
	if in := s.chain.installation; in != nil {
		rec.ServerPublicKeyPEM = nullable(in.ServerPublicKeyPEM)
		rec.InstallToken = nullable(in.Token)
		rec.InstallCreated = nullableTime(in.Created)
		rec.InstallUpdated = nullableTime(in.Updated)
	}
	if d := s.chain.device; d != nil {
		id := d.ID
		rec.DeviceID = &id
	}
	if as := s.chain.session; as != nil {
		id, timeout := as.ID, as.Timeout
		rec.SessionID = &id
		rec.SessionToken = nullable(as.Token)
		rec.SessionTimeout = &timeout
		rec.SessionExpiryTime = nullableTime(as.ExpiresAt)
		rec.UserInfo = as.UserInfo
	}
	return rec
}

// restored is the in-memory state rebuilt from a record.
type restored struct {
	keys     *keyPair
	chain    chain
	orphaned []string // links present in the blob without their prerequisite
}

// restore parses the record. It does not touch the session, so a
// malformed key leaves the live state as it was.
func (r *record) restore() (*restored, error) {
	out := &restored{}

	if priv := deref(r.PrivateKeyPEM); priv != "" {
		key, err := rsakey.PrivateKeyFromPEM(priv)
		if err != nil {
			return nil, fmt.Errorf("private key: %w", err)
		}
		out.keys = &keyPair{
			private:    key,
			privatePEM: priv,
			publicPEM:  deref(r.PublicKeyPEM),
		}
		if out.keys.publicPEM == "" {
			if out.keys.publicPEM, err = rsakey.PublicKeyToPEM(&key.PublicKey); err != nil {
				return nil, fmt.Errorf("public key: %w", err)
			}
		}
	}

	serverPEM, token := deref(r.ServerPublicKeyPEM), deref(r.InstallToken)
	if serverPEM != "" && token != "" {
		pub, err := rsakey.PublicKeyFromPEM(serverPEM)
		if err != nil {
			return nil, fmt.Errorf("server public key: %w", err)
		}
		out.chain.attachInstallation(&Installation{
			Token:              token,
			ServerPublicKey:    pub,
			ServerPublicKeyPEM: serverPEM,
			Created:            derefTime(r.InstallCreated),
			Updated:            derefTime(r.InstallUpdated),
		})
	}

	if r.DeviceID != nil {
		if err := out.chain.attachDevice(&Device{ID: *r.DeviceID}); err != nil {
			out.orphaned = append(out.orphaned, "device")
		}
	}

	if r.SessionID != nil {
		as := &APISession{
			ID:        *r.SessionID,
			Token:     deref(r.SessionToken),
			ExpiresAt: derefTime(r.SessionExpiryTime),
			UserInfo:  r.UserInfo,
		}
		if r.SessionTimeout != nil {
			as.Timeout = *r.SessionTimeout
		}
		if err := out.chain.attachSession(as); err != nil {
			out.orphaned = append(out.orphaned, "session")
		}
	}

	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}
