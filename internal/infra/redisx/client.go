// Package redisx backs the Tip Streamer's cross-instance dedup set (spec
// §4.3), adapted from the teacher's infra/redis client: same connection
// setup, repurposed from a ZSET range-queue to a TTL'd SET for observed
// block hashes since the spec's dedup window is time-bounded, not
// height-scored.
package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Client wraps the dedup-set operations the Tip Streamer needs.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and verifies connectivity.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

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

func dedupKey(network string, hash string) string {
	return fmt.Sprintf("streamed:%s:%s", network, hash)
}

// MarkSeen records hash as observed for ttl. It returns true if this call
// was the one that first recorded it (i.e. the block should be
// processed), false if it was already present (duplicate, spec §4.3).
func (c *Client) MarkSeen(ctx context.Context, network string, hash string, ttl time.Duration) (firstSeen bool, err error) {
	ok, err := c.rdb.SetNX(ctx, dedupKey(network, hash), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}
