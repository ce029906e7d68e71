package ai

import (
	"context"
	"errors"
)

var (
	ErrEmptyCompletion       = errors.New("empty completion")
	ErrUnknownProvider       = errors.New("unknown completion provider")
	ErrProviderNotConfigured = errors.New("completion provider not configured")
)

// Usage reports token counts returned by a provider.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Completion is the raw provider output. Usage is nil when the provider
// did not report token counts.
type Completion struct {
	Text  string
	Usage *Usage
}

// TextGenerator generates text from a system prompt and user prompt.
// An empty system prompt means no system turn is sent.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (Completion, error)
}
