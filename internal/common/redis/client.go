// Package redis wraps go-redis with the logging and lifecycle conventions
// used throughout the engine; it is deliberately trimmed to the handful of
// commands the event bus's optional fanout publisher needs.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
	addr   string
}

// NewClient dials addr and verifies connectivity with a bounded PING.
func NewClient(addr string, logger *zap.Logger) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})

	client := &Client{rdb: rdb, logger: logger, addr: addr}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Debug("redis client connected", zap.String("addr", addr))
	return client, nil
}

func (c *Client) Ping(ctx context.Context) error {
	result, err := c.rdb.Ping(ctx).Result()
	if err != nil {
		c.logger.Error("redis ping failed", zap.Error(err))
		return err
	}
	if result != "PONG" {
		return fmt.Errorf("unexpected ping response: %s", result)
	}
	return nil
}

// Publish fans one lifecycle event out to channel. Failures are logged and
// returned to the caller but are never fatal to the crawl.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		c.logger.Warn("redis publish failed", zap.String("channel", channel), zap.Error(err))
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Close(); err != nil {
		c.logger.Error("failed to close redis client", zap.Error(err))
		return err
	}
	c.logger.Debug("redis client closed")
	return nil
}

func (c *Client) GetClient() *redis.Client {
	return c.rdb
}
