package session

import (
	"context"
	"crypto/rsa"
	"log/slog"
	"time"

	"github.com/yndnr/bunqsession-go/pkg/crypto/rsakey"
	"github.com/yndnr/bunqsession-go/pkg/crypto/symmetric"
)

// Logger is the debug sink the session writes diagnostics to. It is
// never needed for correctness. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
}

// Metrics receives lifecycle observations. Label values are plain strings
// so implementations need not import this package.
type Metrics interface {
	ObserveLoad(outcome string)
	ObserveStore(err error)
	ObserveDestroy(level string)
	ObserveKeyGeneration(d time.Duration, err error)
	ObserveHandshakeStep(step string, err error)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the diagnostic logger.
func WithLogger(l Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock replaces time.Now, for expiry checks and computed expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCipherType selects the cipher used for persisted blobs.
// Default: AES-GCM.
func WithCipherType(t symmetric.CipherType) Option {
	return func(s *Session) {
		s.cipherType = t
	}
}

// WithKeyBits sets the default RSA key size. Default: 2048.
func WithKeyBits(bits int) Option {
	return func(s *Session) {
		if bits > 0 {
			s.keyBits = bits
		}
	}
}

type keyGenerator func(ctx context.Context, bits int) (*rsa.PrivateKey, error)

// withKeyGenerator replaces RSA generation. Used by tests to avoid paying
// for fresh 2048-bit keys.
func withKeyGenerator(gen keyGenerator) Option {
	return func(s *Session) {
		s.keygen = gen
	}
}

type noopMetrics struct{}

func (noopMetrics) ObserveLoad(string)                        {}
func (noopMetrics) ObserveStore(error)                        {}
func (noopMetrics) ObserveDestroy(string)                     {}
func (noopMetrics) ObserveKeyGeneration(time.Duration, error) {}
func (noopMetrics) ObserveHandshakeStep(string, error)        {}

func defaults(s *Session) {
	s.logger = slog.New(slog.DiscardHandler)
	s.metrics = noopMetrics{}
	s.now = time.Now
	s.cipherType = symmetric.CipherAESGCM
	s.keyBits = rsakey.MinBits
	s.keygen = rsakey.GenerateKeyPair
}
