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

const promptShieldsAPIVersion = "2024-09-01"

// PromptShields delegates detection to Azure AI Content Safety Prompt Shields.
// Each text is submitted as a single document with an empty user prompt.
type PromptShields struct {
	endpoint   string
	key        string
	httpClient *http.Client
}

// NewPromptShields builds a client for the Content Safety resource endpoint.
func NewPromptShields(endpoint, key string) *PromptShields {
	return &PromptShields{
		endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		key:        strings.TrimSpace(key),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PromptShields) Name() string { return "azure-prompt-shields" }

func (p *PromptShields) Detect(ctx context.Context, text string) (bool, error) {
	body, err := json.Marshal(shieldPromptRequest{UserPrompt: "", Documents: []string{text}})
	if err != nil {
		return false, err
	}
	url := fmt.Sprintf("%s/contentsafety/text:shieldPrompt?api-version=%s", p.endpoint, promptShieldsAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", p.key)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("prompt shields request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var errResp shieldPromptError
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return false, fmt.Errorf("prompt shields api error: %s", errResp.Error.Message)
		}
		return false, fmt.Errorf("prompt shields api error: %s", resp.Status)
	}
	var out shieldPromptResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("prompt shields decode: %w", err)
	}
	if len(out.DocumentsAnalysis) == 0 {
		return false, fmt.Errorf("prompt shields: missing document analysis")
	}
	return out.DocumentsAnalysis[0].AttackDetected, nil
}

type shieldPromptRequest struct {
	UserPrompt string   `json:"userPrompt"`
	Documents  []string `json:"documents"`
}

type shieldPromptResponse struct {
	UserPromptAnalysis struct {
		AttackDetected bool `json:"attackDetected"`
	} `json:"userPromptAnalysis"`
	DocumentsAnalysis []struct {
		AttackDetected bool `json:"attackDetected"`
	} `json:"documentsAnalysis"`
}

type shieldPromptError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
