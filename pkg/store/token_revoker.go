package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevoker tracks revoked tokens until expiry.
type TokenRevoker interface {
	Revoke(token string, ttl time.Duration) error
	IsRevoked(token string) (bool, error)
}

// UserTokenRevoker additionally invalidates every token of a user issued
// before a cutoff.
type UserTokenRevoker interface {
	RevokeUser(userID string, since time.Time) error
	RevokedAfter(userID string) (time.Time, error)
}

// MemoryTokenRevoker keeps revoked tokens in-memory (single instance only).
type MemoryTokenRevoker struct {
	mu      sync.Mutex
	tokens  map[string]time.Time
	cutoffs map[string]time.Time
}

// NewMemoryTokenRevoker builds an in-memory revoker.
func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		tokens:  make(map[string]time.Time),
		cutoffs: make(map[string]time.Time),
	}
}

// Revoke marks a token as revoked until its expiry.
func (r *MemoryTokenRevoker) Revoke(token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	r.tokens[token] = time.Now().Add(ttl)
	r.mu.Unlock()
	return nil
}

// IsRevoked checks if the token is revoked.
func (r *MemoryTokenRevoker) IsRevoked(token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.tokens[token]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(r.tokens, token)
		return false, nil
	}
	return true, nil
}

// RevokeUser records a cutoff; older cutoffs never replace newer ones.
func (r *MemoryTokenRevoker) RevokeUser(userID string, since time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.cutoffs[userID]; ok && !since.After(prev) {
		return nil
	}
	r.cutoffs[userID] = since.UTC()
	return nil
}

// RevokedAfter returns the user's cutoff or the zero time.
func (r *MemoryTokenRevoker) RevokedAfter(userID string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cutoffs[userID], nil
}

// RedisTokenRevoker stores revoked tokens in Redis with TTL.
type RedisTokenRevoker struct {
	client    *redis.Client
	cutoffTTL time.Duration
}

// NewRedisTokenRevoker builds a Redis-backed revoker. User cutoffs are kept
// for cutoffTTL, which should be at least the session lifetime.
func NewRedisTokenRevoker(client *redis.Client, cutoffTTL time.Duration) *RedisTokenRevoker {
	return &RedisTokenRevoker{client: client, cutoffTTL: cutoffTTL}
}

// Revoke marks a token as revoked until expiry.
func (r *RedisTokenRevoker) Revoke(token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, revocationKey(token), "1", ttl).Err()
}

// IsRevoked checks if the token is revoked.
func (r *RedisTokenRevoker) IsRevoked(token string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := r.client.Exists(ctx, revocationKey(token)).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

var raiseCutoffScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local next = tonumber(ARGV[1])
if next > current then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
end
return 1
`)

// RevokeUser records a cutoff in Unix milliseconds; it only moves forward.
func (r *RedisTokenRevoker) RevokeUser(userID string, since time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return raiseCutoffScript.Run(ctx, r.client, []string{userCutoffKey(userID)}, since.UnixMilli(), r.cutoffTTL.Milliseconds()).Err()
}

// RevokedAfter returns the user's cutoff or the zero time.
func (r *RedisTokenRevoker) RevokedAfter(userID string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ms, err := r.client.Get(ctx, userCutoffKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func revocationKey(token string) string {
	return "mailguard:revoked:" + token
}

func userCutoffKey(userID string) string {
	return "mailguard:revoked-user:" + userID
}
