package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, mr *miniredis.Miniredis, limit int) *FixedWindowLimiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", limit, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	limiter.now = func() time.Time { return time.Unix(1_700_000_010, 0) }
	return limiter
}

func TestFixedWindowLimiterRedis(t *testing.T) {
	limiter := newLimiter(t, miniredis.RunT(t), 2)
	ctx := context.Background()
	if ok, _ := limiter.Allow(ctx, "login:203.0.113.5"); !ok {
		t.Fatalf("first request should pass")
	}
	if ok, _ := limiter.Allow(ctx, "login:203.0.113.5"); !ok {
		t.Fatalf("second request should pass")
	}
	ok, retry := limiter.Allow(ctx, "login:203.0.113.5")
	if ok {
		t.Fatalf("third request should be blocked")
	}
	if retry <= 0 || retry > time.Minute {
		t.Fatalf("unexpected retry-after %v", retry)
	}
	if ok, _ := limiter.Allow(ctx, "login:198.51.100.1"); !ok {
		t.Fatalf("other keys must have their own budget")
	}
}

func TestFixedWindowLimiterResetsOnNextWindow(t *testing.T) {
	limiter := newLimiter(t, miniredis.RunT(t), 1)
	ctx := context.Background()
	if ok, _ := limiter.Allow(ctx, "k"); !ok {
		t.Fatalf("first request should pass")
	}
	if ok, _ := limiter.Allow(ctx, "k"); ok {
		t.Fatalf("second request should be blocked")
	}
	limiter.now = func() time.Time { return time.Unix(1_700_000_010, 0).Add(time.Minute) }
	if ok, _ := limiter.Allow(ctx, "k"); !ok {
		t.Fatalf("next window should pass")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter := newLimiter(t, mr, 1)
	mr.Close()
	if ok, _ := limiter.Allow(context.Background(), "ip-1"); ok {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresClient(t *testing.T) {
	limiter, err := NewFixedWindowLimiter(nil, "", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error without redis client")
	}
}
