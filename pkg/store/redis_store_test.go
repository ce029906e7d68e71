package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mailguard/pkg/domain"
)

func TestRedisTokenStoreIsAdditive(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisTokenStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	if err := s.AddTokenUsage(map[string]domain.TokenUsage{"openai_gpt_4o": {InputTokens: 100, OutputTokens: 20}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddTokenUsage(map[string]domain.TokenUsage{"openai_gpt_4o": {InputTokens: 5, OutputTokens: 1}, "deepseek_r1": {OutputTokens: 9}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := s.TokenUsage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["openai_gpt_4o"] != (domain.TokenUsage{InputTokens: 105, OutputTokens: 21}) {
		t.Fatalf("unexpected gpt counters %+v", got["openai_gpt_4o"])
	}
	if got["deepseek_r1"] != (domain.TokenUsage{OutputTokens: 9}) {
		t.Fatalf("unexpected deepseek counters %+v", got["deepseek_r1"])
	}
}

func TestRedisSessionStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisSessionStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	userID, ok, err := s.GetUserIDByToken(token)
	if err != nil || !ok || userID != "user-1" {
		t.Fatalf("lookup: ok=%v id=%q err=%v", ok, userID, err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Fatalf("expected session to be gone")
	}

	token, _ = s.NewSession("user-2")
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Fatalf("expected session to expire")
	}
}
