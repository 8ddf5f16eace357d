// Package cache stores decoded payloads keyed by the SHA-256 of the image
// bytes, so a resubmitted invoice skips the cascade.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrDisabled is returned by New when caching is switched off.
var ErrDisabled = errors.New("cache: disabled")

// Backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Entry is a cached successful detection.
type Entry struct {
	Payload  string    `json:"payload"`
	Strategy string    `json:"strategy"`
	StoredAt time.Time `json:"stored_at"`
}

// Cache is a payload store. Get returns nil, nil on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, e Entry) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Enabled       bool
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
	MaxEntries    int
}

// Key hashes image bytes into a cache key.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// New builds the configured backend.
func New(cfg Config) (Cache, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemory(cfg.MaxEntries, cfg.TTL), nil
	case BackendRedis:
		return NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
