package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/yndnr/bunqsession-go/pkg/storage"
)

// Config is the root configuration for a bunqsession client.
type Config struct {
	// Environment is SANDBOX or PRODUCTION.
	Environment string `koanf:"environment"`

	APIKey     string   `koanf:"api_key"`
	AllowedIPs []string `koanf:"allowed_ips"`

	// EncryptionKey protects the persisted session. A "hex:" or
	// "base64:" prefix selects an encoding, otherwise the raw bytes of
	// the string are used. Empty runs the session keyless.
	EncryptionKey string `koanf:"encryption_key"`

	// KeyBits is the RSA key size for a fresh keypair.
	KeyBits int `koanf:"key_bits"`

	// Cipher is aes-gcm or chacha20-poly1305.
	Cipher string `koanf:"cipher"`

	// DeviceDescription is sent when registering the device.
	DeviceDescription string `koanf:"device_description"`

	Storage storage.Config `koanf:"storage"`
	Log     LogSection     `koanf:"log"`
	Metrics MetricsSection `koanf:"metrics"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsSection configures Prometheus metrics.
type MetricsSection struct {
	Enabled bool `koanf:"enabled"`
}

// EncryptionKeyBytes decodes EncryptionKey.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	v := c.EncryptionKey
	switch {
	case v == "":
		return nil, nil
	case strings.HasPrefix(v, "hex:"):
		b, err := hex.DecodeString(strings.TrimPrefix(v, "hex:"))
		if err != nil {
			return nil, fmt.Errorf("encryption_key: %w", err)
		}
		return b, nil
	case strings.HasPrefix(v, "base64:"):
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, "base64:"))
		if err != nil {
			return nil, fmt.Errorf("encryption_key: %w", err)
		}
		return b, nil
	default:
		return []byte(v), nil
	}
}
