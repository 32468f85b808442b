package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/yndnr/bunqsession-go/internal/telemetry/logger"
	"github.com/yndnr/bunqsession-go/pkg/crypto/rsakey"
	"github.com/yndnr/bunqsession-go/pkg/crypto/symmetric"
	"github.com/yndnr/bunqsession-go/pkg/session"
	"github.com/yndnr/bunqsession-go/pkg/storage"
)

// Verify validates the configuration. All problems are reported together.
func Verify(cfg *Config) error {
	var errs []error

	if _, err := session.ParseEnvironment(cfg.Environment); err != nil {
		errs = append(errs, fmt.Errorf("environment: %w", err))
	}
	if cfg.KeyBits != 0 && cfg.KeyBits < rsakey.MinBits {
		errs = append(errs, fmt.Errorf("key_bits: %d is below %d", cfg.KeyBits, rsakey.MinBits))
	}
	for _, ip := range cfg.AllowedIPs {
		if !validAllowedIP(ip) {
			errs = append(errs, fmt.Errorf("allowed_ips: %q is not an IP address, prefix or *", ip))
		}
	}

	errs = append(errs, verifyEncryption(cfg)...)
	errs = append(errs, verifyStorage(&cfg.Storage)...)
	errs = append(errs, verifyLog(&cfg.Log)...)

	return errors.Join(errs...)
}

// validAllowedIP accepts an address, a CIDR prefix, or the "*" wildcard
// that lets a device call from any address.
func validAllowedIP(ip string) bool {
	if ip == "*" {
		return true
	}
	if _, err := netip.ParseAddr(ip); err == nil {
		return true
	}
	_, err := netip.ParsePrefix(ip)
	return err == nil
}

func verifyEncryption(cfg *Config) []error {
	var errs []error

	cipher := symmetric.CipherType(cfg.Cipher)
	switch cipher {
	case "", symmetric.CipherAESGCM, symmetric.CipherChaCha20:
	default:
		errs = append(errs, fmt.Errorf("cipher: unknown cipher %q", cfg.Cipher))
	}

	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return append(errs, err)
	}
	if len(key) == 0 {
		return errs
	}
	if !symmetric.ValidateKey(key) {
		errs = append(errs, fmt.Errorf("encryption_key: length %d is not 16, 24 or 32 bytes", len(key)))
	} else if cipher == symmetric.CipherChaCha20 && len(key) != 32 {
		errs = append(errs, errors.New("encryption_key: chacha20-poly1305 needs a 32 byte key"))
	}
	return errs
}

func verifyStorage(cfg *storage.Config) []error {
	switch strings.ToLower(cfg.Backend) {
	case "", storage.BackendMemory:
	case storage.BackendBadger:
		if cfg.Dir == "" && !cfg.Badger.InMemory {
			return []error{errors.New("storage.dir is required for the badger backend")}
		}
	case storage.BackendRedis:
		if cfg.Redis.Addr == "" {
			return []error{errors.New("storage.redis.addr is required for the redis backend")}
		}
	case storage.BackendSQLite:
		if cfg.Path == "" {
			return []error{errors.New("storage.path is required for the sqlite backend")}
		}
	default:
		return []error{fmt.Errorf("storage.backend: unknown backend %q", cfg.Backend)}
	}
	return nil
}

func verifyLog(cfg *LogSection) []error {
	if _, err := logger.ParseLevel(cfg.Level); err != nil {
		return []error{fmt.Errorf("log.level: %w", err)}
	}
	switch strings.ToLower(cfg.Format) {
	case "", "json", "text", "console":
		return nil
	default:
		return []error{fmt.Errorf("log.format: unknown format %q", cfg.Format)}
	}
}
