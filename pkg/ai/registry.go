package ai

import (
	"fmt"
	"strings"
	"sync"
)

// Provider names used in the model catalog.
const (
	ProviderOpenAI   = "openai"
	ProviderTogether = "together"
	ProviderLlamaCpp = "llamacpp"
	ProviderOllama   = "ollama"
	ProviderGemini   = "gemini"
	ProviderBedrock  = "bedrock"
)

const (
	defaultTogetherBaseURL = "https://api.together.xyz/v1"
	defaultLlamaCppBaseURL = "http://127.0.0.1:8080/v1"
)

// KnownProvider reports whether name is a supported provider.
func KnownProvider(name string) bool {
	switch name {
	case ProviderOpenAI, ProviderTogether, ProviderLlamaCpp, ProviderOllama, ProviderGemini, ProviderBedrock:
		return true
	}
	return false
}

// ProviderConfig carries endpoints and credentials for every provider.
type ProviderConfig struct {
	OpenAIBaseURL   string
	OpenAIAPIKey    string
	TogetherBaseURL string
	TogetherAPIKey  string
	LlamaCppBaseURL string
	OllamaBaseURL   string
	GeminiBaseURL   string
	GeminiAPIKey    string
	Bedrock         ConverseAPI
}

// ModelSpec identifies one catalog model.
type ModelSpec struct {
	Key         string
	Provider    string
	Model       string
	Temperature *float64
}

// Registry builds and caches a TextGenerator per catalog model.
type Registry struct {
	cfg ProviderConfig

	mu    sync.Mutex
	cache map[string]TextGenerator
}

// NewRegistry builds a registry over the given provider settings.
func NewRegistry(cfg ProviderConfig) *Registry {
	return &Registry{cfg: cfg, cache: make(map[string]TextGenerator)}
}

// Generator returns the generator for spec, constructing it on first use.
func (r *Registry) Generator(spec ModelSpec) (TextGenerator, error) {
	cacheKey := spec.Key + "|" + spec.Provider + "|" + spec.Model
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen, ok := r.cache[cacheKey]; ok {
		return gen, nil
	}
	gen, err := r.build(spec)
	if err != nil {
		return nil, err
	}
	r.cache[cacheKey] = gen
	return gen, nil
}

func (r *Registry) build(spec ModelSpec) (TextGenerator, error) {
	switch strings.TrimSpace(spec.Provider) {
	case ProviderOpenAI:
		if r.cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: openai api key missing", ErrProviderNotConfigured)
		}
		return NewOpenAICompatGenerator(r.cfg.OpenAIBaseURL, r.cfg.OpenAIAPIKey, spec.Model, spec.Temperature), nil
	case ProviderTogether:
		if r.cfg.TogetherAPIKey == "" {
			return nil, fmt.Errorf("%w: together api key missing", ErrProviderNotConfigured)
		}
		baseURL := r.cfg.TogetherBaseURL
		if baseURL == "" {
			baseURL = defaultTogetherBaseURL
		}
		return NewOpenAICompatGenerator(baseURL, r.cfg.TogetherAPIKey, spec.Model, spec.Temperature), nil
	case ProviderLlamaCpp:
		baseURL := r.cfg.LlamaCppBaseURL
		if baseURL == "" {
			baseURL = defaultLlamaCppBaseURL
		}
		return NewOpenAICompatGenerator(baseURL, "", spec.Model, spec.Temperature), nil
	case ProviderOllama:
		return NewOllamaGenerator(NewOllamaClient(r.cfg.OllamaBaseURL), spec.Model, spec.Temperature), nil
	case ProviderGemini:
		client, err := NewGeminiClient(r.cfg.GeminiAPIKey, r.cfg.GeminiBaseURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderNotConfigured, err)
		}
		return NewGeminiGenerator(client, spec.Model, spec.Temperature), nil
	case ProviderBedrock:
		if r.cfg.Bedrock == nil {
			return nil, fmt.Errorf("%w: bedrock client missing", ErrProviderNotConfigured)
		}
		return NewBedrockGenerator(r.cfg.Bedrock, spec.Model, spec.Temperature), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, spec.Provider)
	}
}
