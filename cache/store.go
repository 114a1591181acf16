// Package cache provides the TTL stores used to hold normalized forecasts.
// Every store keeps opaque encoded bytes, so a read never aliases a previous write.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"weathercast/config"
)

// Store is a concurrency-safe key/value store with per-entry expiry
type Store interface {
	// Get returns a copy of the live value for key. Expired and missing keys report ok=false.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value under key until ttl elapses, replacing any previous entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Purger is implemented by stores that need expired entries swept explicitly
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// Clock returns the current time; stores accept one so expiry can be tested
type Clock func() time.Time

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// New builds the store selected by cfg.Backend
func New(ctx context.Context, cfg config.Cache, redisCfg config.Redis) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendMemory, "":
		return NewMemoryStore(), nil
	case config.BackendFile:
		return NewFileStore(cfg.Directory)
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		store := NewRedisStore(client, cfg.KeyPrefix)
		if err := store.Ping(ctx); err != nil {
			client.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %q", cfg.Backend)
	}
}
