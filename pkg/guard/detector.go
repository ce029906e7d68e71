package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDetectorFailure is returned when a detection fails under FailClosed.
	ErrDetectorFailure = errors.New("injection detector failure")
	// ErrDetectorUnavailable marks a filter mode whose detector was not configured.
	ErrDetectorUnavailable = errors.New("injection detector not configured")
)

// Detector inspects untrusted text and reports whether it likely carries an
// injected instruction. Implementations return their errors as-is; the
// Pipeline applies the deployment failure mode.
type Detector interface {
	Name() string
	Detect(ctx context.Context, text string) (bool, error)
}

// FailureMode decides how a failing detection is treated.
type FailureMode string

const (
	// FailOpen treats a failed detection as not flagged.
	FailOpen FailureMode = "open"
	// FailClosed aborts the request with ErrDetectorFailure.
	FailClosed FailureMode = "closed"
)

// ParseFailureMode accepts "open" or "closed"; empty means open.
func ParseFailureMode(raw string) (FailureMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(FailOpen):
		return FailOpen, nil
	case string(FailClosed):
		return FailClosed, nil
	default:
		return "", fmt.Errorf("unknown detector failure mode %q", raw)
	}
}

// Disabled never flags.
type Disabled struct{}

func (Disabled) Name() string { return "disabled" }

func (Disabled) Detect(context.Context, string) (bool, error) { return false, nil }

type unavailable struct {
	name string
}

func (u unavailable) Name() string { return u.name }

func (u unavailable) Detect(context.Context, string) (bool, error) {
	return false, fmt.Errorf("%w: %s", ErrDetectorUnavailable, u.name)
}
