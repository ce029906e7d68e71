package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mailguard/pkg/ai"
	"mailguard/pkg/domain"
	"mailguard/pkg/guard"
	"mailguard/pkg/store"
	"mailguard/services/summarizer/internal/app"
)

// stubGenerator serves every catalog model and records the prompts it saw.
type stubGenerator struct {
	mu      sync.Mutex
	prompts []string
	err     error
	started chan struct{}
	block   chan struct{}
}

func (g *stubGenerator) Generator(ai.ModelSpec) (ai.TextGenerator, error) {
	return g, nil
}

func (g *stubGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (ai.Completion, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, systemPrompt+"\n"+userPrompt)
	err := g.err
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
	if err != nil {
		return ai.Completion{}, err
	}
	return ai.Completion{Text: "<think>plan</think>summary", Usage: &ai.Usage{InputTokens: 10, OutputTokens: 2}}, nil
}

func (g *stubGenerator) setErr(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

func (g *stubGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

// markerDetector flags documents containing marker.
type markerDetector struct {
	marker string
}

func (d markerDetector) Name() string { return "marker" }

func (d markerDetector) Detect(_ context.Context, text string) (bool, error) {
	return strings.Contains(text, d.marker), nil
}

type testEnv struct {
	srv        *httptest.Server
	app        *app.App
	gen        *stubGenerator
	adminToken string
}

type envOptions struct {
	loginLimit int
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	sessions, err := store.NewJWTSessionStore("0123456789abcdef0123456789abcdef", time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	gen := &stubGenerator{}
	detectors := map[domain.FilterMode]guard.Detector{domain.FilterPromptGuard: markerDetector{marker: "steal"}}
	core, err := app.New(app.Config{
		Store:          store.NewMemoryStore(),
		Sessions:       sessions,
		Generators:     gen,
		Pipeline:       guard.NewPipeline(detectors, guard.Options{Timeout: time.Second, Concurrency: 2}),
		TokenFlushTick: time.Hour,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = core.Close(context.Background()) })
	if err := core.Policies().Bootstrap(domain.DefaultPolicy()); err != nil {
		t.Fatalf("bootstrap policy: %v", err)
	}
	if _, err := core.EnsureAdmin("root", "admin-password"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	_, adminToken, err := core.Login("root", "admin-password")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	loginLimit := opts.loginLimit
	if loginLimit == 0 {
		loginLimit = 100
	}
	s, err := New(Config{
		App:                        core,
		Redis:                      client,
		LoginRateLimitPerMinute:    loginLimit,
		RegisterRateLimitPerMinute: 100,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, app: core, gen: gen, adminToken: adminToken}
}

// userToken registers username through a fresh signup key.
func (e *testEnv) userToken(t *testing.T, username string) string {
	t.Helper()
	keys, err := e.app.CreateSignupKeys(1)
	if err != nil {
		t.Fatalf("create signup key: %v", err)
	}
	_, token, err := e.app.Register(keys[0], username, "user-password")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decodeObject(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return out
}

func setDailyQuota(t *testing.T, e *testEnv, limit int) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/admin/config", e.adminToken,
		map[string]any{"limits": map[string]any{"daily_summarize_quota": limit}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set quota expected 200, got %d: %s", resp.StatusCode, body)
	}
}
