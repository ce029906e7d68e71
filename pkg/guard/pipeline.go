package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"mailguard/pkg/domain"
)

const (
	defaultDetectTimeout = 10 * time.Second
	defaultConcurrency   = 4
)

// Options tunes a Pipeline.
type Options struct {
	FailureMode FailureMode
	// Timeout bounds each individual detection call.
	Timeout     time.Duration
	Concurrency int
}

// Result is the prompt-ready email block produced by Prepare.
type Result struct {
	Text    string
	Kept    int
	Dropped int
}

// Pipeline scans, filters and formats untrusted documents.
type Pipeline struct {
	detectors   map[domain.FilterMode]Detector
	failureMode FailureMode
	timeout     time.Duration
	concurrency int
}

// NewPipeline builds a pipeline over the configured detectors. Filter modes
// without a detector fail every detection with ErrDetectorUnavailable.
func NewPipeline(detectors map[domain.FilterMode]Detector, opts Options) *Pipeline {
	all := map[domain.FilterMode]Detector{
		domain.FilterDisabled:         Disabled{},
		domain.FilterPromptGuard:      unavailable{name: string(domain.FilterPromptGuard)},
		domain.FilterPromptShields:    unavailable{name: string(domain.FilterPromptShields)},
		domain.FilterBedrockGuardrail: unavailable{name: string(domain.FilterBedrockGuardrail)},
	}
	for mode, d := range detectors {
		if d != nil {
			all[mode] = d
		}
	}
	if opts.FailureMode == "" {
		opts.FailureMode = FailOpen
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDetectTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Pipeline{
		detectors:   all,
		failureMode: opts.FailureMode,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
	}
}

// FailureMode returns the configured failure handling.
func (p *Pipeline) FailureMode() FailureMode {
	return p.failureMode
}

// Scan runs the detector selected by mode over every document and returns one
// verdict per document in input order.
func (p *Pipeline) Scan(ctx context.Context, mode domain.FilterMode, docs []string, verbose bool) ([]bool, error) {
	flags := make([]bool, len(docs))
	if mode == domain.FilterDisabled || mode == "" {
		return flags, nil
	}
	det, ok := p.detectors[mode]
	if !ok {
		det = unavailable{name: string(mode)}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, p.timeout)
			defer cancel()
			flagged, err := det.Detect(dctx, doc)
			if err != nil {
				if p.failureMode == FailClosed {
					return fmt.Errorf("%w: %s: %v", ErrDetectorFailure, det.Name(), err)
				}
				slog.Warn("injection detector failed open", "detector", det.Name(), "document", i, "err", err)
				return nil
			}
			if flagged && verbose {
				slog.Info("injection detected", "detector", det.Name(), "document", i, "text", doc)
			}
			flags[i] = flagged
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return flags, nil
}

// Prepare drops flagged documents, applies delimiter filtering and formats the
// survivors according to the policy.
func (p *Pipeline) Prepare(ctx context.Context, policy domain.Policy, docs []string) (Result, error) {
	flags, err := p.Scan(ctx, policy.PromptInjectionFilter.Mode, docs, policy.Logging.Verbose)
	if err != nil {
		return Result{}, err
	}
	kept := make([]string, 0, len(docs))
	for i, doc := range docs {
		if !flags[i] {
			kept = append(kept, doc)
		}
	}
	kept = FilterDelimiters(kept, policy.DelimiterFiltering.Mode)
	spotlight := policy.PromptEngineering.Mode == domain.PromptSpotlight
	return Result{
		Text:    FormatDocuments(kept, spotlight),
		Kept:    len(kept),
		Dropped: len(docs) - len(kept),
	}, nil
}
