package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAICompatGenerator calls any OpenAI-compatible /chat/completions endpoint.
// Used for OpenAI itself, Together and llama.cpp server.
type OpenAICompatGenerator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature *float64
	httpClient  *http.Client
}

// NewOpenAICompatGenerator builds an OpenAI-compatible TextGenerator.
// baseURL should include the /v1 prefix, e.g. "http://localhost:8080/v1".
// apiKey can be empty for local servers. A nil temperature is omitted from
// the request, which reasoning models such as o1 require.
func NewOpenAICompatGenerator(baseURL, apiKey, model string, temperature *float64) *OpenAICompatGenerator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAICompatGenerator{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(apiKey),
		model:       strings.TrimSpace(model),
		temperature: temperature,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// GenerateText implements TextGenerator using the chat completions API.
func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (Completion, error) {
	if g.model == "" {
		return Completion{}, fmt.Errorf("openai-compat generation model required")
	}
	messages := make([]oaiMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: userPrompt})

	body, err := json.Marshal(oaiChatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
	})
	if err != nil {
		return Completion{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("openai-compat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return Completion{}, fmt.Errorf("openai-compat api error: %s", errResp.Error.Message)
		}
		return Completion{}, fmt.Errorf("openai-compat api error: %s", resp.Status)
	}

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return Completion{}, fmt.Errorf("openai-compat decode: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return Completion{}, fmt.Errorf("openai-compat: %w", ErrEmptyCompletion)
	}
	out := Completion{Text: chatResp.Choices[0].Message.Content}
	if chatResp.Usage != nil {
		out.Usage = &Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
		}
	}
	return out, nil
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
