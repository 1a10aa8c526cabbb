package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the client settings the API tunes. Unset durations and
// sizes fall back to go-redis defaults, except PingTimeout.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	PingTimeout time.Duration
}

// OpenRedis connects and pings. The signaling relay and rate limiter share the returned client.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis: addr is required")
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 2 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// Fixed window counter. Returns {count, pttl_ms}.
var rateLimitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RateDecision is the outcome of one AllowRate hit.
type RateDecision struct {
	Allowed    bool
	// RetryAfter is how long until the current window resets.
	RetryAfter time.Duration
}

// AllowRate records a hit on key and allows it while the window's count stays within limit.
func AllowRate(ctx context.Context, rdb *redis.Client, key string, limit int, window time.Duration) (RateDecision, error) {
	switch {
	case rdb == nil:
		return RateDecision{}, errors.New("ratelimit: nil redis client")
	case key == "":
		return RateDecision{}, errors.New("ratelimit: empty key")
	case limit <= 0 || window <= 0:
		return RateDecision{}, fmt.Errorf("ratelimit: limit %d and window %s must be positive", limit, window)
	}
	vals, err := rateLimitScript.Run(ctx, rdb, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return RateDecision{}, err
	}
	if len(vals) != 2 {
		return RateDecision{}, fmt.Errorf("ratelimit: unexpected script reply %v", vals)
	}
	return RateDecision{
		Allowed:    vals[0] <= int64(limit),
		RetryAfter: time.Duration(vals[1]) * time.Millisecond,
	}, nil
}
