package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestAlerter(t *testing.T) (*AuditAlerter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	alerter, err := NewAuditAlerter(client, "test:alerts")
	if err != nil {
		t.Fatalf("new alerter: %v", err)
	}
	return alerter, mr
}

func TestAuditAlerterObserveTriggers(t *testing.T) {
	alerter, _ := newTestAlerter(t)
	var last AlertResult
	for i := 0; i < 10; i++ {
		result, err := alerter.Observe(context.Background(), "login", "fail", "127.0.0.1")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		if i < 9 && result.Triggered {
			t.Fatalf("triggered early at attempt %d", i+1)
		}
		last = result
	}
	if !last.Triggered || last.Count != 10 || last.Threshold != 10 {
		t.Fatalf("expected alert threshold to trigger, got %+v", last)
	}
}

func TestAuditAlerterCountsPerIP(t *testing.T) {
	alerter, _ := newTestAlerter(t)
	for i := 0; i < 9; i++ {
		if _, err := alerter.Observe(context.Background(), "register", "fail", "10.0.0.1"); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	result, err := alerter.Observe(context.Background(), "register", "fail", "10.0.0.2")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result.Triggered || result.Count != 1 {
		t.Fatalf("other ip must have its own counter, got %+v", result)
	}
}

func TestAuditAlerterWindowRollsOver(t *testing.T) {
	alerter, _ := newTestAlerter(t)
	base := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	alerter.now = func() time.Time { return base }
	for i := 0; i < 20; i++ {
		if _, err := alerter.Observe(context.Background(), "login", "rate_limited", "1.2.3.4"); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	alerter.now = func() time.Time { return base.Add(time.Minute) }
	result, err := alerter.Observe(context.Background(), "login", "rate_limited", "1.2.3.4")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result.Triggered || result.Count != 1 {
		t.Fatalf("expected a fresh window, got %+v", result)
	}
}

func TestAuditAlerterObserveIgnoresUnknownRule(t *testing.T) {
	alerter, _ := newTestAlerter(t)
	result, err := alerter.Observe(context.Background(), "login", "success", "127.0.0.1")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result.Triggered || result.Count != 0 {
		t.Fatalf("unexpected result for unknown rule: %+v", result)
	}
	var nilAlerter *AuditAlerter
	if _, err := nilAlerter.Observe(context.Background(), "login", "fail", "x"); err != nil {
		t.Fatalf("nil alerter should be a no-op: %v", err)
	}
}

func TestNewAuditAlerterRequiresClient(t *testing.T) {
	if _, err := NewAuditAlerter(nil, ""); err == nil {
		t.Fatalf("expected error without redis client")
	}
}
