// Package redis connects the serial allocator's Redis backend.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"certledger/internal/platform/config"
)

// connectAttempts bounds how often New pings before giving up, so a server
// that starts alongside Redis does not fail on the first refused dial.
const connectAttempts = 4

type Client struct {
	*redis.Client
}

// New dials Redis and waits until it answers a ping. It returns nil when no
// URL is configured.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	ping := func() error { return client.Ping(ctx).Err() }
	if err := backoff.Retry(ping, backoff.WithContext(backoff.WithMaxRetries(policy, connectAttempts-1), ctx)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client}, nil
}

// Health backs the readiness probe.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Client.Close()
}
