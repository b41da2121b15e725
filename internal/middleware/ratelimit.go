package middleware

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/community-auth/internal/apperr"
	"github.com/iliyamo/community-auth/internal/config"
)

// bucketScript refills and takes one token atomically.  Returns
// {allowed, remaining, retry_after_ms}.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

local elapsed = math.max(0, now_ms - last_refill)
local intervals = math.floor(elapsed / interval_ms)
if intervals > 0 then
	tokens = math.min(capacity, tokens + intervals * refill_tokens)
	last_refill = last_refill + intervals * interval_ms
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)
return { allowed, tokens, retry_after_ms }
`)

// TokenBucket is a Redis-backed token bucket shared by every API replica.
type TokenBucket struct {
	rdb redis.UniversalClient
	cfg config.RateLimitConfig
	now func() time.Time
}

func NewTokenBucket(rdb redis.UniversalClient, cfg config.RateLimitConfig) *TokenBucket {
	return &TokenBucket{rdb: rdb, cfg: cfg, now: time.Now}
}

// Take consumes one token from key.
func (b *TokenBucket) Take(ctx context.Context, key string) (allowed bool, remaining int64, retry time.Duration, err error) {
	vals, err := bucketScript.Run(ctx, b.rdb, []string{key},
		b.now().UnixMilli(),
		b.cfg.Capacity,
		b.cfg.RefillTokens,
		b.cfg.RefillInterval.Milliseconds(),
		int64(b.cfg.TTL/time.Second),
	).Int64Slice()
	if err != nil {
		return false, 0, 0, err
	}
	if len(vals) != 3 {
		return false, 0, 0, fmt.Errorf("ratelimit: unexpected script result %v", vals)
	}
	return vals[0] == 1, vals[1], time.Duration(vals[2]) * time.Millisecond, nil
}

// RateLimit throttles requests per key strategy.  A nil bucket or a
// disabled config passes everything through; Redis failures fail open.
func RateLimit(b *TokenBucket) echo.MiddlewareFunc {
	if b == nil || b.rdb == nil || !b.cfg.Enabled {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(b.cfg, c)
			allowed, remaining, retry, err := b.Take(c.Request().Context(), key)
			if err != nil {
				c.Logger().Warnf("[ratelimit] redis error for key=%s: %v", key, err)
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(b.cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if b.cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if !allowed {
				secs := int(math.Ceil(retry.Seconds()))
				h.Set("Retry-After", strconv.Itoa(secs))
				if b.cfg.Debug {
					c.Logger().Infof("[ratelimit] block key=%s retry=%s", key, retry)
				}
				return apperr.TooManyRequests(fmt.Sprintf("rate limit exceeded, retry in %d seconds", secs))
			}
			return next(c)
		}
	}
}

func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	uid := rateIdentity(c)
	route := c.Request().Method + " " + c.Path()

	parts := []string{cfg.Prefix}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", uid)
	case "route":
		parts = append(parts, "route", route)
	case "ip_user":
		parts = append(parts, "ip", ip, "user", uid)
	case "ip_route":
		parts = append(parts, "ip", ip, "route", route)
	case "user_route":
		parts = append(parts, "user", uid, "route", route)
	default:
		parts = append(parts, "ip", ip, "user", uid, "route", route)
	}
	return strings.Join(parts, ":")
}
