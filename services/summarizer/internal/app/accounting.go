package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mailguard/pkg/domain"
	"mailguard/pkg/store"
)

const defaultTokenFlushInterval = 5 * time.Second

// TokenAccountant is the only writer of per-model token counters. Record
// folds a delta into the pending batch at once; a background goroutine
// flushes the batch to the token store.
type TokenAccountant struct {
	store    store.TokenStore
	interval time.Duration
	flushReq chan chan error

	mu      sync.Mutex
	pending map[string]domain.TokenUsage
	closed  bool

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewTokenAccountant starts the writer goroutine. Call Close to flush and stop it.
func NewTokenAccountant(s store.TokenStore, interval time.Duration) *TokenAccountant {
	if interval <= 0 {
		interval = defaultTokenFlushInterval
	}
	a := &TokenAccountant{
		store:    s,
		interval: interval,
		flushReq: make(chan chan error),
		pending:  make(map[string]domain.TokenUsage),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Record adds one completion's token usage. Zero deltas are dropped. The
// delta is visible to Snapshot as soon as Record returns.
func (a *TokenAccountant) Record(model string, inputTokens, outputTokens int64) {
	d := domain.TokenUsage{InputTokens: inputTokens, OutputTokens: outputTokens}
	if model == "" || d.IsZero() || inputTokens < 0 || outputTokens < 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		slog.Warn("token usage dropped after shutdown", "model", model)
		return
	}
	a.pending[model] = a.pending[model].Add(d)
}

// Snapshot returns persisted totals plus deltas not yet flushed.
func (a *TokenAccountant) Snapshot() (map[string]domain.TokenUsage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	persisted, err := a.store.TokenUsage()
	if err != nil {
		return nil, fmt.Errorf("load token usage: %w", err)
	}
	out := make(map[string]domain.TokenUsage, len(persisted)+len(a.pending))
	for k, v := range persisted {
		out[k] = v
	}
	for k, v := range a.pending {
		out[k] = out[k].Add(v)
	}
	return out, nil
}

// Flush writes pending deltas now.
func (a *TokenAccountant) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case a.flushReq <- reply:
	case <-a.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes outstanding deltas and stops the writer.
func (a *TokenAccountant) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.done)
	})
	select {
	case <-a.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *TokenAccountant) run() {
	defer close(a.stopped)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.write()
		case reply := <-a.flushReq:
			reply <- a.write()
		case <-a.done:
			if err := a.write(); err != nil {
				slog.Error("final token usage flush failed", "err", err)
			}
			return
		}
	}
}

// write persists pending deltas. They stay pending when the store fails so
// the next tick retries them. The lock is held across the store call so
// Snapshot never counts a batch twice.
func (a *TokenAccountant) write() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return nil
	}
	if err := a.store.AddTokenUsage(a.pending); err != nil {
		slog.Warn("token usage flush failed", "models", len(a.pending), "err", err)
		return fmt.Errorf("flush token usage: %w", err)
	}
	a.pending = make(map[string]domain.TokenUsage)
	return nil
}
