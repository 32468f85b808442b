package config

import (
	"fmt"

	"github.com/yndnr/bunqsession-go/internal/infra/confloader"
)

// Load builds a Config from the defaults, the YAML file at path (if
// not empty), BUNQSESSION_ environment variables and overrides (dotted
// keys), in rising priority. The result is not verified.
func Load(path string, overrides map[string]any) (*Config, error) {
	cfg := Default()

	l := confloader.NewLoader(confloader.WithConfigFile(path))
	if err := l.Load(cfg); err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if err := l.LoadMap(overrides); err != nil {
			return nil, err
		}
		if err := l.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unmarshal overrides: %w", err)
		}
	}
	return cfg, nil
}
