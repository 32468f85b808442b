package config

import (
	"github.com/yndnr/bunqsession-go/internal/infra/buildinfo"
	"github.com/yndnr/bunqsession-go/pkg/crypto/rsakey"
	"github.com/yndnr/bunqsession-go/pkg/crypto/symmetric"
	"github.com/yndnr/bunqsession-go/pkg/storage"
)

// Default configuration values.
const (
	DefaultEnvironment = "SANDBOX"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Environment:       DefaultEnvironment,
		KeyBits:           rsakey.MinBits,
		Cipher:            string(symmetric.CipherAESGCM),
		DeviceDescription: buildinfo.UserAgent(),
		Storage:           storage.DefaultConfig(),
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
