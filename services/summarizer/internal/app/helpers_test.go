package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mailguard/pkg/ai"
	"mailguard/pkg/domain"
	"mailguard/pkg/guard"
	"mailguard/pkg/store"
)

type fakeGenerator struct {
	mu      sync.Mutex
	calls   []Messages
	reply   string
	usage   *ai.Usage
	err     error
	started chan struct{}
	block   chan struct{}
}

func (g *fakeGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (ai.Completion, error) {
	g.mu.Lock()
	g.calls = append(g.calls, Messages{System: systemPrompt, User: userPrompt})
	g.mu.Unlock()
	if g.started != nil {
		g.started <- struct{}{}
	}
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return ai.Completion{}, ctx.Err()
		}
	}
	if g.err != nil {
		return ai.Completion{}, g.err
	}
	return ai.Completion{Text: g.reply, Usage: g.usage}, nil
}

func (g *fakeGenerator) Calls() []Messages {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Messages(nil), g.calls...)
}

type fakeSource struct {
	gen   *fakeGenerator
	specs []ai.ModelSpec
	err   error
	mu    sync.Mutex
}

func (s *fakeSource) Generator(spec ai.ModelSpec) (ai.TextGenerator, error) {
	s.mu.Lock()
	s.specs = append(s.specs, spec)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.gen, nil
}

// substringDetector flags any text containing marker.
type substringDetector struct {
	marker string
	err    error
}

func (d substringDetector) Name() string { return "substring" }

func (d substringDetector) Detect(_ context.Context, text string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return strings.Contains(text, d.marker), nil
}

type recordedTokens struct {
	mu   sync.Mutex
	seen map[string]domain.TokenUsage
}

func (r *recordedTokens) Record(model string, in, out int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]domain.TokenUsage)
	}
	r.seen[model] = r.seen[model].Add(domain.TokenUsage{InputTokens: in, OutputTokens: out})
}

type testApp struct {
	*App
	store *store.MemoryStore
	gen   *fakeGenerator
	admin domain.User
}

func newTestApp(t *testing.T, detectors map[domain.FilterMode]guard.Detector, opts guard.Options) *testApp {
	t.Helper()
	return newTestAppWithUsage(t, detectors, opts, nil)
}

func newTestAppWithUsage(t *testing.T, detectors map[domain.FilterMode]guard.Detector, opts guard.Options, usage store.UsageStore) *testApp {
	t.Helper()
	mem := store.NewMemoryStore()
	sessions, err := store.NewJWTSessionStore("0123456789abcdef0123456789abcdef", time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	require.NoError(t, err)
	gen := &fakeGenerator{reply: "summary", usage: &ai.Usage{InputTokens: 10, OutputTokens: 2}}

	a, err := New(Config{
		Store:          mem,
		Usage:          usage,
		Sessions:       sessions,
		Generators:     &fakeSource{gen: gen},
		Pipeline:       guard.NewPipeline(detectors, opts),
		TokenFlushTick: time.Hour,
		Now:            func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	require.NoError(t, a.Policies().Bootstrap(domain.DefaultPolicy()))
	admin, err := a.EnsureAdmin("root", "admin-password")
	require.NoError(t, err)
	return &testApp{App: a, store: mem, gen: gen, admin: admin}
}

func (ta *testApp) registerUser(t *testing.T, username string) domain.User {
	t.Helper()
	keys, err := ta.CreateSignupKeys(1)
	require.NoError(t, err)
	user, _, err := ta.Register(keys[0], username, "user-password")
	require.NoError(t, err)
	return user
}
