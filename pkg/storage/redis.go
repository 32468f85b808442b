package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yndnr/bunqsession-go/internal/infra/tlsroots"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`

	// Prefix is prepended to every key.
	Prefix string `koanf:"prefix"`

	// TTL expires stored values. Zero keeps them forever.
	TTL time.Duration `koanf:"ttl"`

	TLS RedisTLSConfig `koanf:"tls"`
}

// RedisTLSConfig enables TLS to the Redis server.
type RedisTLSConfig struct {
	Enabled          bool `koanf:"enabled"`
	tlsroots.Options `koanf:",squash"`
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr: "127.0.0.1:6379",
	}
}

// RedisStore implements Store on a Redis server.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	owned  bool
}

// NewRedisStore wraps an existing client. The caller keeps ownership of
// client; Close on the store does not close it.
func NewRedisStore(client *redis.Client, cfg RedisConfig) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}
}

// OpenRedisStore dials Redis and checks the connection with PING.
func OpenRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: addr is required")
	}

	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := tlsroots.ClientConfig(cfg.TLS.Options)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		opts.TLSConfig = tlsCfg
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	s := NewRedisStore(client, cfg)
	s.owned = true
	return s, nil
}

// Get retrieves a value by key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("redis: get: %w", err)
	}
	return v, nil
}

// Set stores a key-value pair.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.prefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set: %w", err)
	}
	return nil
}

// Remove deletes a key.
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis: del: %w", err)
	}
	return nil
}

// Close closes the client if the store dialled it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
