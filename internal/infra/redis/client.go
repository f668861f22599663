// Package redis provides the durable mirror of the in-memory WAL, so
// unresolved failures survive a process restart.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/faultline/internal/core/domain"
)

const walKey = "faultline:wal"

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Client wraps Redis operations for the WAL mirror.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SaveEntry upserts a WAL entry in the mirror hash.
func (c *Client) SaveEntry(ctx context.Context, entry *domain.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal wal entry: %w", err)
	}
	if err := c.rdb.HSet(ctx, walKey, entry.ID, data).Err(); err != nil {
		return fmt.Errorf("hset failed: %w", err)
	}
	return nil
}

// DeleteEntries removes mirrored entries by id.
func (c *Client) DeleteEntries(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.rdb.HDel(ctx, walKey, ids...).Err(); err != nil {
		return fmt.Errorf("hdel failed: %w", err)
	}
	return nil
}

// LoadEntries returns every mirrored WAL entry. Entries that fail to decode
// are skipped rather than aborting the reload.
func (c *Client) LoadEntries(ctx context.Context) ([]*domain.LogEntry, error) {
	raw, err := c.rdb.HGetAll(ctx, walKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}

	entries := make([]*domain.LogEntry, 0, len(raw))
	for _, v := range raw {
		var entry domain.LogEntry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Reset drops the whole mirror.
func (c *Client) Reset(ctx context.Context) error {
	return c.rdb.Del(ctx, walKey).Err()
}
