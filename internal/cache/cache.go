// Package cache stores solver output keyed by a hash of the script, so an
// identical request can be answered without running the solver again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Cache kinds accepted by New.
const (
	KindNone   = "none"
	KindMemory = "memory"
	KindRedis  = "redis"
)

var (
	ErrFailedToParseRedisURL = errors.New("failed to parse redis connection string")
	ErrRedisNotReady         = errors.New("redis did not become ready within the given time period")
	ErrUnknownKind           = errors.New("unknown cache kind")
)

// Cache is a byte-valued store with per-entry expiry.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores val under key. A non-positive ttl never expires.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Key derives the cache key for a script: the hex SHA-256 of the language
// and the script, separated by a NUL byte.
func Key(language, script string) string {
	h := sha256.New()
	h.Write([]byte(language))
	h.Write([]byte{0})
	h.Write([]byte(script))
	return hex.EncodeToString(h.Sum(nil))
}

// Config selects and sizes the cache.
type Config struct {
	Kind     string
	Capacity int
	RedisURL string

	RedisRetryAttempts  int
	RedisRetryInterval  time.Duration
	RedisConnectTimeout time.Duration
}

// New builds the cache described by cfg. The returned close function
// releases any connection and is never nil.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Cache, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.Kind {
	case "", KindNone:
		logger.Info("result cache disabled")
		return Noop{}, noClose, nil
	case KindMemory:
		logger.Info("result cache enabled", "kind", KindMemory, "capacity", cfg.Capacity)
		return NewMemory(cfg.Capacity), noClose, nil
	case KindRedis:
		client, err := Connect(ctx, RedisConfig{
			ConnectionURL:  cfg.RedisURL,
			RetryAttempts:  cfg.RedisRetryAttempts,
			RetryInterval:  cfg.RedisRetryInterval,
			ConnectTimeout: cfg.RedisConnectTimeout,
		})
		if err != nil {
			return nil, noClose, fmt.Errorf("connect redis cache: %w", err)
		}
		logger.Info("result cache enabled", "kind", KindRedis)
		return NewRedis(client, ""), client.Close, nil
	default:
		return nil, noClose, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// Noop is a Cache that stores nothing.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
