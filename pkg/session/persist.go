package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/bunqsession-go/pkg/crypto/symmetric"
	"github.com/yndnr/bunqsession-go/pkg/storage"
)

// LoadSession reads, decrypts and restores the stored session.
//
// Every storage, decryption and parse failure becomes a LoadOutcome and a
// log line; the returned error is only ever a context error. A blob from
// another environment is removed from the store. A restored chain whose
// installation and device are valid but whose API session is not has the
// session dropped and persisted, so the caller creates a new session
// without installing again.
func (s *Session) LoadSession(ctx context.Context) (LoadOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSessionLocked(ctx)
}

func (s *Session) loadSessionLocked(ctx context.Context) (LoadOutcome, error) {
	outcome, err := s.readSessionLocked(ctx)
	s.lastLoad = outcome
	s.metrics.ObserveLoad(outcome.String())
	s.logger.Debug("session load finished",
		"location", s.location.Session,
		"outcome", outcome.String())
	return outcome, err
}

func (s *Session) readSessionLocked(ctx context.Context) (LoadOutcome, error) {
	s.purgeStaleLocked(ctx)

	s.logger.Debug("loading session", "location", s.location.Session)
	blob, found, err := s.storageGet(ctx, s.location.Session, false)
	if err != nil {
		if ctx.Err() != nil {
			return LoadNotFound, ctx.Err()
		}
		s.logger.Debug("session storage unreadable", "error", err)
		return LoadNotFound, nil
	}
	if !found {
		s.logger.Debug("no stored session found")
		return LoadNotFound, nil
	}

	rec, err := s.decryptRecordLocked(ctx, blob)
	if err != nil {
		if ctx.Err() != nil {
			return LoadNotFound, ctx.Err()
		}
		s.logger.Debug("failed to decrypt session", "error", err)
		return LoadCorrupted, nil
	}

	if s.apiKey != "" && deref(rec.APIKey) != s.apiKey {
		s.logger.Debug("stored session belongs to another api key")
		return LoadMismatch, nil
	}
	if rec.Environment != s.environment {
		s.logger.Debug("stored session belongs to another environment, purging",
			"stored", rec.Environment, "current", s.environment)
		s.destroyInstallationMemoryLocked()
		s.storageRemove(ctx, s.location.Session, true)
		s.storageRemove(ctx, s.location.IV, true)
		return LoadMismatch, ctx.Err()
	}

	r, err := rec.restore()
	if err != nil {
		s.logger.Debug("stored session has malformed keys", "error", err)
		return LoadCorrupted, nil
	}
	for _, link := range r.orphaned {
		s.logger.Debug("dropped stored link without prerequisite", "link", link)
	}

	s.keys = r.keys
	s.chain = r.chain
	s.logRestoredLocked()

	// An installation with a device but no live session is kept, and
	// only the session is dropped, so one installation never ends up
	// with two sessions.
	if s.verifyInstallationLocked() && s.verifyDeviceLocked() && !s.verifySessionLocked() {
		if err := s.destroyAPISessionLocked(ctx, true); err != nil {
			s.logger.Debug("failed to persist dropped session", "error", err)
			if ctx.Err() != nil {
				return LoadSessionInvalid, ctx.Err()
			}
		}
		return LoadSessionInvalid, nil
	}

	return LoadRestored, nil
}

func (s *Session) decryptRecordLocked(ctx context.Context, blob string) (*record, error) {
	if len(s.encryptionKey) == 0 {
		return nil, ErrNoEncryptionKey
	}
	iv, found, err := s.storageGet(ctx, s.location.IV, false)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &symmetric.DecryptionError{Reason: "iv missing"}
	}

	plaintext, err := s.open(blob, iv)
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &rec, nil
}

// shortToken keeps the first characters of a token so log lines can be
// correlated. Tokens too short to keep a prefix are hidden entirely.
func shortToken(token string) string {
	if len(token) <= tokenLogPrefix*2 {
		return "***"
	}
	return token[:tokenLogPrefix] + "..."
}

const tokenLogPrefix = 5

func (s *Session) logRestoredLocked() {
	args := []any{"state", s.chain.state(s.keys != nil, s.now()).String()}
	if in := s.chain.installation; in != nil {
		args = append(args,
			"install_created", in.Created,
			"install_updated", in.Updated,
			"install_token", shortToken(in.Token))
	}
	if d := s.chain.device; d != nil {
		args = append(args, "device_id", d.ID)
	}
	if as := s.chain.session; as != nil {
		args = append(args,
			"session_id", as.ID,
			"session_expiry", as.ExpiresAt,
			"session_token", shortToken(as.Token))
	}
	s.logger.Debug("session restored", args...)
}

// purgeStaleLocked removes the blob of an environment the session has
// switched away from.
func (s *Session) purgeStaleLocked(ctx context.Context) {
	if s.stale == nil {
		return
	}
	if *s.stale != s.location {
		s.logger.Debug("purging session of previous environment", "location", s.stale.Session)
		s.storageRemove(ctx, s.stale.Session, true)
		s.storageRemove(ctx, s.stale.IV, true)
	}
	s.stale = nil
}

// StoreSession encrypts and writes the persisted field set. It returns
// false without writing when no encryption key is set; state is never
// stored in plaintext.
func (s *Session) StoreSession(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeSessionLocked(ctx)
}

func (s *Session) storeSessionLocked(ctx context.Context) (bool, error) {
	if len(s.encryptionKey) == 0 {
		return false, nil
	}

	data, err := json.Marshal(s.snapshotLocked())
	if err != nil {
		return false, fmt.Errorf("session: encode session: %w", err)
	}
	err = s.writeSealed(ctx, data, s.location.Session, s.location.IV)
	s.metrics.ObserveStore(err)
	if err != nil {
		return false, err
	}
	s.logger.Debug("session stored", "location", s.location.Session)
	return true, nil
}

// StoreEncryptedData encrypts the JSON encoding of v under the session
// encryption key and writes it to location, with the IV at location+"_IV".
// It returns false without writing when no encryption key is set.
func (s *Session) StoreEncryptedData(ctx context.Context, v any, location string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.encryptionKey) == 0 {
		return false, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("session: encode %s: %w", location, err)
	}
	if err := s.writeSealed(ctx, data, location, ivLocation(location)); err != nil {
		return false, err
	}
	return true, nil
}

// LoadEncryptedData reads a blob written by StoreEncryptedData and decodes
// it into out. ivLoc defaults to location+"_IV" when empty.
//
// A missing blob or IV returns false with no error. Decryption and decode
// failures are returned, as is ErrNoEncryptionKey.
func (s *Session) LoadEncryptedData(ctx context.Context, location, ivLoc string, out any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ivLoc == "" {
		ivLoc = ivLocation(location)
	}

	blob, found, err := s.storageGet(ctx, location, false)
	if err != nil || !found {
		return false, err
	}
	iv, found, err := s.storageGet(ctx, ivLoc, false)
	if err != nil || !found {
		return false, err
	}

	if len(s.encryptionKey) == 0 {
		return false, ErrNoEncryptionKey.WithDetails("cannot decrypt " + location)
	}
	plaintext, err := s.open(blob, iv)
	if err != nil {
		return false, fmt.Errorf("session: load %s: %w", location, err)
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return false, fmt.Errorf("session: decode %s: %w", location, err)
	}
	return true, nil
}

// writeSealed encrypts data and writes ciphertext and IV concurrently.
// Both writes must succeed. A half-written pair fails to decrypt on the
// next load and is treated as no session.
func (s *Session) writeSealed(ctx context.Context, data []byte, location, ivLoc string) error {
	c, err := symmetric.NewWithType(s.encryptionKey, s.cipherType)
	if err != nil {
		return ErrInvalidEncryptionKey.WithCause(err)
	}
	sealed, err := c.Encrypt(data)
	if err != nil {
		return fmt.Errorf("session: encrypt %s: %w", location, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.storageSet(gctx, ivLoc, base64.StdEncoding.EncodeToString(sealed.IV), false)
	})
	g.Go(func() error {
		return s.storageSet(gctx, location, base64.StdEncoding.EncodeToString(sealed.Ciphertext), false)
	})
	return g.Wait()
}

func (s *Session) open(blob, iv string) ([]byte, error) {
	c, err := symmetric.NewWithType(s.encryptionKey, s.cipherType)
	if err != nil {
		return nil, ErrInvalidEncryptionKey.WithCause(err)
	}
	return symmetric.DecodeAndOpen(c, blob, iv)
}

// ============================================================================
// Storage wrappers. With silent set, store errors are logged and dropped.
// ============================================================================

// storageGet returns found=false for a missing key.
func (s *Session) storageGet(ctx context.Context, key string, silent bool) (string, bool, error) {
	v, err := s.store.Get(ctx, key)
	switch {
	case err == nil:
		return v, true, nil
	case errors.Is(err, storage.ErrNotFound):
		return "", false, nil
	case silent:
		s.logger.Debug("storage get failed", "key", key, "error", err)
		return "", false, nil
	default:
		return "", false, fmt.Errorf("session: storage get %s: %w", key, err)
	}
}

func (s *Session) storageSet(ctx context.Context, key, value string, silent bool) error {
	if err := s.store.Set(ctx, key, value); err != nil {
		if silent {
			s.logger.Debug("storage set failed", "key", key, "error", err)
			return nil
		}
		return fmt.Errorf("session: storage set %s: %w", key, err)
	}
	return nil
}

func (s *Session) storageRemove(ctx context.Context, key string, silent bool) error {
	if err := s.store.Remove(ctx, key); err != nil {
		if silent {
			s.logger.Debug("storage remove failed", "key", key, "error", err)
			return nil
		}
		return fmt.Errorf("session: storage remove %s: %w", key, err)
	}
	return nil
}
