package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mailguard/internal/quota"
	"mailguard/pkg/ai"
	"mailguard/pkg/domain"
	"mailguard/pkg/guard"
	"mailguard/pkg/store"
)

// Config holds runtime configuration for the core application. Injected
// dependencies (Store, Sessions, Usage, Tokens, Generators, Pipeline) take
// precedence over the settings used to build them.
type Config struct {
	StoreBackend   string
	DatabaseURL    string
	Redis          *redis.Client
	UsageBackend   string
	SessionBackend string
	SessionSecret  string
	SessionTTL     time.Duration

	Providers         ai.ProviderConfig
	Detectors         map[domain.FilterMode]guard.Detector
	DetectorOptions   guard.Options
	CompletionTimeout time.Duration
	TokenFlushTick    time.Duration

	Store      store.Store
	Sessions   store.SessionStore
	Usage      store.UsageStore
	Tokens     store.TokenStore
	Generators GeneratorSource
	Pipeline   *guard.Pipeline
	Now        func() time.Time
}

// App is the core application service wiring storage, policies, the
// injection pipeline and completion providers together.
type App struct {
	store      store.Store
	sessions   store.SessionStore
	usage      store.UsageStore
	policies   *PolicyResolver
	dispatcher *Dispatcher
	tokens     *TokenAccountant
	mailbox    *Mailbox
	now        func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	dataStore := cfg.Store
	if dataStore == nil {
		switch cfg.StoreBackend {
		case "memory":
			dataStore = store.NewMemoryStore()
		default:
			if cfg.DatabaseURL == "" {
				return nil, fmt.Errorf("database URL required")
			}
			gs, err := store.NewGormStore(cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("init postgres store: %w", err)
			}
			dataStore = gs
		}
	}

	sessions := cfg.Sessions
	if sessions == nil {
		if cfg.Redis == nil {
			return nil, errors.New("redis client is required for sessions")
		}
		switch strings.TrimSpace(cfg.SessionBackend) {
		case "redis":
			sessions = store.NewRedisSessionStore(cfg.Redis, cfg.SessionTTL)
		default:
			revoker := store.NewRedisTokenRevoker(cfg.Redis, cfg.SessionTTL)
			js, err := store.NewJWTSessionStore(cfg.SessionSecret, cfg.SessionTTL, revoker, store.JWTOptions{})
			if err != nil {
				return nil, fmt.Errorf("init jwt session store: %w", err)
			}
			sessions = js
		}
	}

	usage := cfg.Usage
	tokenStore := cfg.Tokens
	if cfg.UsageBackend == "redis" {
		if cfg.Redis == nil {
			return nil, errors.New("redis client is required for the redis usage backend")
		}
		if usage == nil {
			usage = quota.NewRedisLedger(cfg.Redis, "")
		}
		if tokenStore == nil {
			tokenStore = store.NewRedisTokenStore(cfg.Redis)
		}
	}
	if usage == nil {
		usage = dataStore
	}
	if tokenStore == nil {
		tokenStore = dataStore
	}

	generators := cfg.Generators
	if generators == nil {
		generators = ai.NewRegistry(cfg.Providers)
	}
	pipeline := cfg.Pipeline
	if pipeline == nil {
		pipeline = guard.NewPipeline(cfg.Detectors, cfg.DetectorOptions)
	}

	tokens := NewTokenAccountant(tokenStore, cfg.TokenFlushTick)
	return &App{
		store:      dataStore,
		sessions:   sessions,
		usage:      usage,
		policies:   NewPolicyResolver(dataStore),
		dispatcher: NewDispatcher(pipeline, generators, tokens, cfg.CompletionTimeout),
		tokens:     tokens,
		mailbox:    NewMailbox(),
		now:        cfg.Now,
	}, nil
}

// Close flushes token counters.
func (a *App) Close(ctx context.Context) error {
	return a.tokens.Close(ctx)
}

// Policies exposes the policy resolver.
func (a *App) Policies() *PolicyResolver {
	return a.policies
}

// Mailbox exposes the mock inbox.
func (a *App) Mailbox() *Mailbox {
	return a.mailbox
}

// Summarize resolves the principal's policy and summarizes docs with it.
func (a *App) Summarize(ctx context.Context, principal domain.User, docs []string) (string, error) {
	if len(docs) == 0 {
		return "", ErrEmptyInput
	}
	policy, err := a.policies.Resolve(principal)
	if err != nil {
		return "", err
	}
	return a.dispatcher.Summarize(ctx, policy, docs)
}

// TokenStats returns cumulative token usage per model.
func (a *App) TokenStats() (map[string]domain.TokenUsage, error) {
	return a.tokens.Snapshot()
}

// FlushTokenStats writes pending token counters now.
func (a *App) FlushTokenStats(ctx context.Context) error {
	return a.tokens.Flush(ctx)
}
