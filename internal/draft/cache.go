// Package draft keeps a best-effort local snapshot of the document being
// edited, so a reload or crash does not lose unsynced work. The cache is
// never authoritative and never an error source: absence, corruption or an
// unreachable Redis all degrade to "no draft".
package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"folio/api/internal/document"

	"github.com/redis/go-redis/v9"
)

// Cache stores one draft per (owner, document kind) under a fixed key.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and returns a draft cache.
func New(redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, ttl), nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Cache{
		client: client,
		prefix: "draft:",
		ttl:    ttl,
	}
}

func (c *Cache) key(owner string, kind document.Kind) string {
	return c.prefix + owner + ":" + string(kind)
}

// Put overwrites the draft for (owner, kind). Called on every mutation, so
// the stored draft always equals the latest in-memory snapshot.
func (c *Cache) Put(ctx context.Context, owner string, kind document.Kind, snap document.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := c.client.Set(ctx, c.key(owner, kind), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// Get returns the stored draft, or nil when there is none. A record that
// fails to parse is treated as absent and dropped.
func (c *Cache) Get(ctx context.Context, owner string, kind document.Kind) (*document.Snapshot, error) {
	payload, err := c.client.Get(ctx, c.key(owner, kind)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}

	var snap document.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		log.Printf("draft: discarding unreadable draft for %s/%s: %v", owner, kind, err)
		_ = c.client.Del(ctx, c.key(owner, kind)).Err()
		return nil, nil
	}
	return &snap, nil
}

// Drop removes the draft for (owner, kind).
func (c *Cache) Drop(ctx context.Context, owner string, kind document.Kind) error {
	if err := c.client.Del(ctx, c.key(owner, kind)).Err(); err != nil {
		return fmt.Errorf("drop draft: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
