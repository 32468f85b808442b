// Package config defines the bunqsession client configuration.
//
//   - spec.go: Config struct definition
//   - default.go: default values
//   - verify.go: validation
//   - sanitize.go: masking of secrets for logging
//   - load.go: loading through koanf (file, environment, overrides)
package config
