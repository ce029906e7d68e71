package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mailguard/pkg/domain"
)

// Day counters outlive their UTC day so late releases still find them.
const counterTTL = 48 * time.Hour

// reserveScript returns {granted, count}. The counter is only incremented
// while it is below the limit.
var reserveScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, current}
end
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, count}
`)

var releaseScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current <= 0 then
  return 0
end
return redis.call("DECR", KEYS[1])
`)

// RedisLedger keeps per-principal daily summarize counters in Redis. It
// satisfies store.UsageStore for multi-instance deployments.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// NewRedisLedger builds a ledger over a shared Redis client.
func NewRedisLedger(client *redis.Client, prefix string) *RedisLedger {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "mailguard:quota"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

// ReserveDailyUsage atomically takes one unit of the day's budget.
func (l *RedisLedger) ReserveDailyUsage(principalID, day string, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := reserveScript.Run(ctx, l.client, []string{l.key(principalID, day)}, limit, counterTTL.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, err
	}
	if len(res) != 2 {
		return 0, errors.New("unexpected reserve reply")
	}
	if res[0] == 0 {
		return int(res[1]), domain.ErrQuotaExhausted
	}
	return int(res[1]), nil
}

// ReleaseDailyUsage gives one unit back, never going below zero.
func (l *RedisLedger) ReleaseDailyUsage(principalID, day string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return releaseScript.Run(ctx, l.client, []string{l.key(principalID, day)}).Err()
}

// DailyUsage returns the current counter.
func (l *RedisLedger) DailyUsage(principalID, day string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	n, err := l.client.Get(ctx, l.key(principalID, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// ClearDailyUsage deletes every day counter of a principal.
func (l *RedisLedger) ClearDailyUsage(principalID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	iter := l.client.Scan(ctx, 0, l.key(principalID, "*"), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return l.client.Del(ctx, keys...).Err()
}

func (l *RedisLedger) key(principalID, day string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, principalID, day)
}
