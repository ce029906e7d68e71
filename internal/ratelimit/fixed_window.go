package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter throttles attempts per key (login and register per
// client IP) in a fixed Redis-backed window.
type FixedWindowLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewFixedWindowLimiter builds a limiter over a shared Redis client.
func NewFixedWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	if limit <= 0 || window < time.Millisecond {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "mailguard:ratelimit"
	}
	return &FixedWindowLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}, nil
}

// Allow reports whether key is still within its window budget. When it is
// not, retryAfter is the time left until the window rolls over. Redis errors
// fail closed.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration) {
	if l == nil {
		return false, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	nowMs := l.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return false, l.window
	}
	if count <= int64(l.limit) {
		return true, 0
	}
	return false, time.Duration((slot+1)*windowMs-nowMs) * time.Millisecond
}
