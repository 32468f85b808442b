package config

import (
	"slices"
	"strings"
)

// Sanitize returns a copy of the config with secrets masked, for logging.
func Sanitize(cfg *Config) *Config {
	sanitized := *cfg
	sanitized.AllowedIPs = slices.Clone(cfg.AllowedIPs)

	if sanitized.APIKey != "" {
		sanitized.APIKey = maskSecret(sanitized.APIKey)
	}
	if sanitized.EncryptionKey != "" {
		sanitized.EncryptionKey = maskSecret(sanitized.EncryptionKey)
	}
	if sanitized.Storage.Redis.Password != "" {
		sanitized.Storage.Redis.Password = maskSecret(sanitized.Storage.Redis.Password)
	}

	return &sanitized
}

// maskSecret keeps the first and last two characters of longer secrets.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
