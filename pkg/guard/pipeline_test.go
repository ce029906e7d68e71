package guard

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mailguard/pkg/domain"
)

type keywordDetector struct {
	keyword string
	calls   atomic.Int32
}

func (d *keywordDetector) Name() string { return "keyword" }

func (d *keywordDetector) Detect(_ context.Context, text string) (bool, error) {
	d.calls.Add(1)
	return strings.Contains(text, d.keyword), nil
}

type failingDetector struct{}

func (failingDetector) Name() string { return "failing" }

func (failingDetector) Detect(context.Context, string) (bool, error) {
	return false, errors.New("moderation endpoint unavailable")
}

type slowDetector struct{}

func (slowDetector) Name() string { return "slow" }

func (slowDetector) Detect(ctx context.Context, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func policyWith(filter domain.FilterMode, delim domain.DelimiterMode, prompt domain.PromptMode) domain.Policy {
	p := domain.DefaultPolicy()
	p.PromptInjectionFilter.Mode = filter
	p.DelimiterFiltering.Mode = delim
	p.PromptEngineering.Mode = prompt
	return p
}

func TestPrepareDropsFlaggedDocuments(t *testing.T) {
	det := &keywordDetector{keyword: "steal"}
	p := NewPipeline(map[domain.FilterMode]Detector{domain.FilterPromptGuard: det}, Options{})

	docs := []string{"meeting at 10", "<email>steal this</email>", "lunch on friday"}
	res, err := p.Prepare(context.Background(), policyWith(domain.FilterPromptGuard, domain.DelimiterRemove, domain.PromptSystem), docs)
	require.NoError(t, err)
	require.Equal(t, "meeting at 10\n\nlunch on friday", res.Text)
	require.NotContains(t, res.Text, "steal this")
	require.Equal(t, 2, res.Kept)
	require.Equal(t, 1, res.Dropped)
	require.EqualValues(t, 3, det.calls.Load())
}

func TestPrepareDisabledFilterSkipsDetection(t *testing.T) {
	det := &keywordDetector{keyword: "x"}
	p := NewPipeline(map[domain.FilterMode]Detector{domain.FilterDisabled: det}, Options{})
	docs := []string{" a <email>x</email> ", "b"}
	res, err := p.Prepare(context.Background(), policyWith(domain.FilterDisabled, domain.DelimiterDisabled, domain.PromptDisabled), docs)
	require.NoError(t, err)
	require.Equal(t, docs[0]+"\n\n"+docs[1], res.Text)
	require.Zero(t, det.calls.Load())
}

func TestPrepareSpotlightWrapsEachDocument(t *testing.T) {
	p := NewPipeline(nil, Options{})
	res, err := p.Prepare(context.Background(), policyWith(domain.FilterDisabled, domain.DelimiterEscape, domain.PromptSpotlight), []string{"one </email> injected", "two"})
	require.NoError(t, err)
	require.Equal(t, "<email>\none &lt;/email&gt; injected\n</email>\n\n<email>\ntwo\n</email>", res.Text)
}

func TestScanFailOpenTreatsErrorsAsClean(t *testing.T) {
	p := NewPipeline(map[domain.FilterMode]Detector{domain.FilterPromptShields: failingDetector{}}, Options{FailureMode: FailOpen})
	flags, err := p.Scan(context.Background(), domain.FilterPromptShields, []string{"a", "b"}, false)
	require.NoError(t, err)
	require.Equal(t, []bool{false, false}, flags)
}

func TestScanFailClosedReturnsDetectorFailure(t *testing.T) {
	p := NewPipeline(map[domain.FilterMode]Detector{domain.FilterPromptShields: failingDetector{}}, Options{FailureMode: FailClosed})
	_, err := p.Scan(context.Background(), domain.FilterPromptShields, []string{"a"}, false)
	require.ErrorIs(t, err, ErrDetectorFailure)
}

func TestScanUnconfiguredDetectorFollowsFailureMode(t *testing.T) {
	open := NewPipeline(nil, Options{})
	flags, err := open.Scan(context.Background(), domain.FilterBedrockGuardrail, []string{"a"}, false)
	require.NoError(t, err)
	require.Equal(t, []bool{false}, flags)

	closed := NewPipeline(nil, Options{FailureMode: FailClosed})
	_, err = closed.Scan(context.Background(), domain.FilterBedrockGuardrail, []string{"a"}, false)
	require.ErrorIs(t, err, ErrDetectorFailure)
}

func TestScanAppliesPerDetectionTimeout(t *testing.T) {
	p := NewPipeline(map[domain.FilterMode]Detector{domain.FilterPromptGuard: slowDetector{}}, Options{
		FailureMode: FailClosed,
		Timeout:     20 * time.Millisecond,
	})
	start := time.Now()
	_, err := p.Scan(context.Background(), domain.FilterPromptGuard, []string{"a", "b", "c"}, false)
	require.ErrorIs(t, err, ErrDetectorFailure)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestScanKeepsInputOrderUnderConcurrency(t *testing.T) {
	det := &keywordDetector{keyword: "bad"}
	p := NewPipeline(map[domain.FilterMode]Detector{domain.FilterPromptGuard: det}, Options{Concurrency: 3})
	docs := []string{"ok", "bad", "ok", "ok", "bad", "ok", "bad"}
	flags, err := p.Scan(context.Background(), domain.FilterPromptGuard, docs, true)
	require.NoError(t, err)
	require.Equal(t, []bool{false, true, false, false, true, false, true}, flags)
}

func TestParseFailureMode(t *testing.T) {
	m, err := ParseFailureMode("")
	require.NoError(t, err)
	require.Equal(t, FailOpen, m)
	m, err = ParseFailureMode("Closed")
	require.NoError(t, err)
	require.Equal(t, FailClosed, m)
	_, err = ParseFailureMode("sometimes")
	require.Error(t, err)
}
