package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"mailguard/pkg/domain"
)

const (
	tokenModelsKey    = "mailguard:tokens:models"
	tokenCounterKey   = "mailguard:tokens:model:"
	fieldInputTokens  = "input_tokens"
	fieldOutputTokens = "output_tokens"
)

// RedisTokenStore keeps per-model token counters as Redis hashes updated with
// HINCRBY, so concurrent writers never lose increments.
type RedisTokenStore struct {
	client *redis.Client
}

// NewRedisTokenStore builds a Redis-backed TokenStore.
func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

// AddTokenUsage increments every model hash in one MULTI/EXEC.
func (s *RedisTokenStore) AddTokenUsage(deltas map[string]domain.TokenUsage) error {
	if len(deltas) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for model, d := range deltas {
			key := tokenCounterKey + model
			pipe.SAdd(ctx, tokenModelsKey, model)
			pipe.HIncrBy(ctx, key, fieldInputTokens, d.InputTokens)
			pipe.HIncrBy(ctx, key, fieldOutputTokens, d.OutputTokens)
		}
		return nil
	})
	return err
}

// TokenUsage reads all model counters.
func (s *RedisTokenStore) TokenUsage() (map[string]domain.TokenUsage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	models, err := s.client.SMembers(ctx, tokenModelsKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(models)
	out := make(map[string]domain.TokenUsage, len(models))
	for _, model := range models {
		fields, err := s.client.HGetAll(ctx, tokenCounterKey+model).Result()
		if err != nil {
			return nil, err
		}
		in, err := parseCounter(fields[fieldInputTokens])
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", model, err)
		}
		outTokens, err := parseCounter(fields[fieldOutputTokens])
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", model, err)
		}
		out[model] = domain.TokenUsage{InputTokens: in, OutputTokens: outTokens}
	}
	return out, nil
}

func parseCounter(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
