package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

func TestOpenAICompatGeneratorSendsMessagesAndParsesUsage(t *testing.T) {
	var got oaiChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Fatalf("unexpected authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"two emails"}}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`))
	}))
	defer srv.Close()

	temp := 0.0
	gen := NewOpenAICompatGenerator(srv.URL+"/v1", "sk-test", "gpt-4o", &temp)
	out, err := gen.GenerateText(context.Background(), "be brief", "summarize")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.Text != "two emails" {
		t.Fatalf("unexpected text %q", out.Text)
	}
	if out.Usage == nil || out.Usage.InputTokens != 12 || out.Usage.OutputTokens != 3 {
		t.Fatalf("unexpected usage %+v", out.Usage)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "summarize" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
	if got.Temperature == nil || *got.Temperature != 0 {
		t.Fatalf("expected temperature 0 to be sent")
	}
}

func TestOpenAICompatGeneratorOmitsSystemTurnAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if _, ok := req["temperature"]; ok {
			t.Fatalf("temperature should be omitted when nil")
		}
		if msgs := req["messages"].([]any); len(msgs) != 1 {
			t.Fatalf("expected only the user turn, got %d", len(msgs))
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	out, err := NewOpenAICompatGenerator(srv.URL, "", "o1", nil).GenerateText(context.Background(), "", "hi")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.Usage != nil {
		t.Fatalf("expected nil usage when provider omits it")
	}
}

func TestOpenAICompatGeneratorSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAICompatGenerator(srv.URL, "k", "gpt-4o", nil).GenerateText(context.Background(), "", "hi")
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestOllamaGeneratorParsesEvalCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"<think>hm</think>done"},"prompt_eval_count":40,"eval_count":7}`))
	}))
	defer srv.Close()

	out, err := NewOllamaGenerator(NewOllamaClient(srv.URL), "llama3.2", nil).GenerateText(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.Usage == nil || out.Usage.InputTokens != 40 || out.Usage.OutputTokens != 7 {
		t.Fatalf("unexpected usage %+v", out.Usage)
	}
	if StripReasoning(out.Text) != "done" {
		t.Fatalf("unexpected stripped text %q", StripReasoning(out.Text))
	}
}

func TestGeminiGeneratorJoinsPartsAndParsesUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-2.0-flash:generateContent") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "g-key" {
			t.Fatalf("missing api key")
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}]}}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":2}}`))
	}))
	defer srv.Close()

	client, err := NewGeminiClient("g-key", srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	out, err := NewGeminiGenerator(client, "models/gemini-2.0-flash", nil).GenerateText(context.Background(), "", "u")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.Text != "ab" || out.Usage == nil || out.Usage.InputTokens != 5 || out.Usage.OutputTokens != 2 {
		t.Fatalf("unexpected completion %+v usage=%+v", out, out.Usage)
	}
}

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = in
	return f.out, f.err
}

func TestBedrockGeneratorBuildsConverseInput(t *testing.T) {
	fake := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role:    types.ConversationRoleAssistant,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "summary"}},
		}},
		Usage: &types.TokenUsage{InputTokens: aws.Int32(9), OutputTokens: aws.Int32(4)},
	}}
	temp := 0.0
	out, err := NewBedrockGenerator(fake, "anthropic.claude", &temp).GenerateText(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.Text != "summary" || out.Usage.InputTokens != 9 || out.Usage.OutputTokens != 4 {
		t.Fatalf("unexpected completion %+v", out)
	}
	if aws.ToString(fake.input.ModelId) != "anthropic.claude" || len(fake.input.System) != 1 {
		t.Fatalf("unexpected converse input %+v", fake.input)
	}
}

func TestBedrockGeneratorWrapsError(t *testing.T) {
	boom := errors.New("throttled")
	_, err := NewBedrockGenerator(&fakeConverse{err: boom}, "m", nil).GenerateText(context.Background(), "", "u")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestRegistryBuildsAndCachesGenerators(t *testing.T) {
	reg := NewRegistry(ProviderConfig{OpenAIAPIKey: "k"})
	spec := ModelSpec{Key: "openai_gpt_4o", Provider: ProviderOpenAI, Model: "gpt-4o"}
	first, err := reg.Generator(spec)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	second, _ := reg.Generator(spec)
	if first != second {
		t.Fatalf("expected cached generator")
	}
	if _, err := reg.Generator(ModelSpec{Key: "x", Provider: "mystery"}); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected unknown provider, got %v", err)
	}
	if _, err := reg.Generator(ModelSpec{Key: "t", Provider: ProviderTogether, Model: "m"}); !errors.Is(err, ErrProviderNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
	if _, err := reg.Generator(ModelSpec{Key: "b", Provider: ProviderBedrock, Model: "m"}); !errors.Is(err, ErrProviderNotConfigured) {
		t.Fatalf("expected bedrock not configured, got %v", err)
	}
}

func TestStripReasoning(t *testing.T) {
	in := "<think>plan\nsteps</think>Summary one.<think>again</think> Summary two."
	if got := StripReasoning(in); got != "Summary one. Summary two." {
		t.Fatalf("unexpected stripped output %q", got)
	}
	if got := StripReasoning("no tags"); got != "no tags" {
		t.Fatalf("unexpected change %q", got)
	}
}
