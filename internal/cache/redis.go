// Package cache keeps the last status snapshot of each session in Redis so
// it outlives session eviction and process restarts.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/facturas/internal/core"
	redis "github.com/redis/go-redis/v9"
)

// DefaultSnapshotTTL applies when Options.TTL is zero.
const DefaultSnapshotTTL = 24 * time.Hour

const keyPrefix = "facturas:status:"

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
	TTL      time.Duration
}

// ProgressCache implements core.ProgressCache.
type ProgressCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ core.ProgressCache = (*ProgressCache)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*ProgressCache, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, opts.TTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration) *ProgressCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &ProgressCache{client: client, ttl: ttl}
}

// Save stores snap, replacing the previous snapshot of the session.
func (c *ProgressCache) Save(ctx context.Context, snap core.StatusSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+snap.SessionID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot or core.ErrSnapshotNotFound.
func (c *ProgressCache) Load(ctx context.Context, sessionID string) (core.StatusSnapshot, error) {
	var snap core.StatusSnapshot
	data, err := c.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, core.ErrSnapshotNotFound
	}
	if err != nil {
		return snap, fmt.Errorf("load snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Delete forgets the snapshot of sessionID.
func (c *ProgressCache) Delete(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, keyPrefix+sessionID).Err()
}

// Close closes the client.
func (c *ProgressCache) Close() error {
	return c.client.Close()
}
