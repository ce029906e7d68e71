package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const promptGuardThreshold = 0.5

// PromptGuard scores text with a locally served Prompt-Guard sequence
// classifier (text-embeddings-inference /predict). Text is flagged when the
// combined INJECTION and JAILBREAK probability exceeds 0.5.
type PromptGuard struct {
	baseURL    string
	httpClient *http.Client
}

// NewPromptGuard builds a classifier client for baseURL.
func NewPromptGuard(baseURL string) *PromptGuard {
	return &PromptGuard{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *PromptGuard) Name() string { return "meta-prompt-guard" }

func (g *PromptGuard) Detect(ctx context.Context, text string) (bool, error) {
	body, err := json.Marshal(promptGuardRequest{Inputs: text, Truncate: true})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("prompt guard request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("prompt guard: unexpected status %s", resp.Status)
	}
	var scores []promptGuardScore
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return false, fmt.Errorf("prompt guard decode: %w", err)
	}
	if len(scores) == 0 {
		return false, fmt.Errorf("prompt guard: empty prediction")
	}
	return injectionScore(scores) > promptGuardThreshold, nil
}

func injectionScore(scores []promptGuardScore) float64 {
	var total float64
	for _, s := range scores {
		switch strings.ToUpper(s.Label) {
		case "INJECTION", "JAILBREAK":
			total += s.Score
		}
	}
	return total
}

type promptGuardRequest struct {
	Inputs   string `json:"inputs"`
	Truncate bool   `json:"truncate"`
}

type promptGuardScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}
