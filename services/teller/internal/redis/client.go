package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/aquamarinepk/aqm"
	goredis "github.com/redis/go-redis/v9"
)

const defaultURL = "redis://localhost:6379/0"

// Client owns the connection used by the Redis session registry.
type Client struct {
	rdb    *goredis.Client
	logger aqm.Logger
	config *aqm.Config
}

func NewClient(config *aqm.Config, logger aqm.Logger) *Client {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Client{
		logger: logger,
		config: config,
	}
}

func (c *Client) Start(ctx context.Context) error {
	redisURL := defaultURL
	if c.config != nil {
		if v, _ := c.config.GetString("redis.url"); v != "" {
			redisURL = v
		}
	}

	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := goredis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("cannot ping Redis: %w", err)
	}

	c.rdb = rdb
	c.logger.Infof("Connected to Redis: %s", opt.Addr)
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			return fmt.Errorf("cannot close Redis: %w", err)
		}
		c.logger.Info("Disconnected from Redis")
	}
	return nil
}

func (c *Client) Redis() *goredis.Client {
	return c.rdb
}

func (c *Client) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return fmt.Errorf("redis client not started")
	}
	return c.rdb.Ping(ctx).Err()
}
