// Package ratelimit holds the fixed-window request counter used to throttle
// verification code mail per address.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/community-auth/internal/config"
)

// Counter allows at most Max requests per key inside Window.
type Counter struct {
	rdb redis.UniversalClient
	cfg config.CodeLimitConfig
}

func NewCounter(rdb redis.UniversalClient, cfg config.CodeLimitConfig) *Counter {
	return &Counter{rdb: rdb, cfg: cfg}
}

func (c *Counter) key(k string) string { return c.cfg.Prefix + ":" + k }

// Allow records one request against key.  When the window is exhausted it
// returns false and the time until the window resets.
func (c *Counter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := c.key(key)
	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.ExpireNX(ctx, k, c.cfg.Window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit incr %s: %w", k, err)
	}
	n := incr.Val()
	if n <= int64(c.cfg.Max) {
		return true, 0, nil
	}
	ttl, err := c.rdb.TTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		ttl = c.cfg.Window
	}
	return false, ttl, nil
}

// Reset clears the counter for key.
func (c *Counter) Reset(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.key(key)).Err()
}
