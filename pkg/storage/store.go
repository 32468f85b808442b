package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Common errors
var (
	ErrNotFound = errors.New("storage: key not found")
	ErrClosed   = errors.New("storage: store closed")
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Store is the durable key-value contract used by the session core.
// Values are opaque strings.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// Engine is a Store that owns resources.
type Engine interface {
	Store
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is one of memory, badger, redis, sqlite.
	Backend string `koanf:"backend"`

	// Dir is the Badger data directory.
	Dir string `koanf:"dir"`

	// Path is the SQLite database file.
	Path string `koanf:"path"`

	Badger BadgerConfig `koanf:"badger"`
	Redis  RedisConfig  `koanf:"redis"`
}

// DefaultConfig returns an in-memory configuration.
func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		Badger:  DefaultBadgerConfig(),
		Redis:   DefaultRedisConfig(),
	}
}

// Open builds the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendBadger:
		return NewBadgerStore(cfg.Dir, cfg.Badger, logger)
	case BackendRedis:
		return OpenRedisStore(ctx, cfg.Redis)
	case BackendSQLite:
		return OpenSQLiteStore(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
