// Package storage publishes exposure-time forecast snapshots for consumers
// to poll, in memory for single-host deployments or via Redis when several
// tools on the mountain watch the same exposure.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "snrcast:snapshot:"

// RedisStore implements Store on a Redis backend, so the observing GUI and
// scripts on other hosts can poll the same forecast the exposure loop
// publishes. Snapshots expire after the configured TTL; an exposure that
// stops publishing disappears rather than lingering as a stale forecast.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.Mutex
}

// NewRedisStore connects to Redis at addr (e.g. "localhost:6379") and
// returns a store writing into database db with the given TTL (0 selects
// 30 minutes). The connection is verified with a ping before returning.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("storage: redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("storage: redis database number must be >= 0")
	}
	if ttl == 0 {
		ttl = 30 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("storage: connecting to redis at %s: %w", addr, err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func validExposureID(id string) bool {
	if id == "" {
		return false
	}
	for _, c := range id {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

// Put stores a snapshot under "snrcast:snapshot:<exposure>" with TTL-based
// expiration.
func (r *RedisStore) Put(ctx context.Context, s Snapshot) error {
	if !validExposureID(s.Exposure) {
		return fmt.Errorf("storage: invalid exposure id %q: only alphanumeric, hyphens, and underscores allowed", s.Exposure)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("storage: marshaling snapshot: %w", err)
	}

	if err := r.client.Set(ctx, keyPrefix+s.Exposure, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("storage: storing snapshot in redis: %w", err)
	}
	return nil
}

// GetLatest retrieves the latest snapshot for an exposure. A missing key is
// reported via found=false, not as an error.
func (r *RedisStore) GetLatest(ctx context.Context, exposure string) (Snapshot, bool, error) {
	if exposure == "" {
		return Snapshot{}, false, errors.New("storage: exposure id required")
	}

	data, err := r.client.Get(ctx, keyPrefix+exposure).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("storage: getting snapshot from redis: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("storage: unmarshaling snapshot: %w", err)
	}
	return snap, true, nil
}

// Close closes the Redis connection. Idempotent.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	if err != nil && err.Error() == "redis: client is closed" {
		return nil
	}
	return err
}

// Ping checks the Redis connection health.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
