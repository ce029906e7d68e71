package domain

import (
	"fmt"
	"strings"
)

// GlobalTenant is the policy store key of the deployment-wide policy.
const GlobalTenant = "global"

const (
	DefaultModelKey            = "openai_gpt_4o"
	DefaultDailySummarizeQuota = 10
)

type PromptMode string

const (
	PromptDisabled  PromptMode = "disabled"
	PromptBasic     PromptMode = "basic"
	PromptSystem    PromptMode = "system"
	PromptSpotlight PromptMode = "system+spotlighting"
)

type FilterMode string

const (
	FilterDisabled         FilterMode = "disabled"
	FilterPromptGuard      FilterMode = "meta-prompt-guard"
	FilterPromptShields    FilterMode = "azure-prompt-shields"
	FilterBedrockGuardrail FilterMode = "aws-bedrock-guardrails"
)

type DelimiterMode string

const (
	DelimiterDisabled DelimiterMode = "disabled"
	DelimiterRemove   DelimiterMode = "remove"
	DelimiterEscape   DelimiterMode = "escape"
)

// ModelEntry is one row of the model catalog. Enabled entries form the allowlist.
type ModelEntry struct {
	Key         string   `json:"key" yaml:"key"`
	Label       string   `json:"label,omitempty" yaml:"label,omitempty"`
	Provider    string   `json:"provider" yaml:"provider"`
	Model       string   `json:"model" yaml:"model"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
}

type LLMSection struct {
	Selected string       `json:"selected" yaml:"selected"`
	Models   []ModelEntry `json:"models,omitempty" yaml:"models,omitempty"`
}

type PromptEngineeringSection struct {
	Mode PromptMode `json:"mode" yaml:"mode"`
}

type InjectionFilterSection struct {
	Mode FilterMode `json:"mode" yaml:"mode"`
}

type DelimiterSection struct {
	Mode DelimiterMode `json:"mode" yaml:"mode"`
}

type LoggingSection struct {
	Verbose bool `json:"verbose" yaml:"verbose"`
}

type LimitsSection struct {
	DailySummarizeQuota int `json:"daily_summarize_quota" yaml:"daily_summarize_quota"`
}

// Policy is the configuration document applied to summarization requests.
// The global policy carries the model catalog and limits; per-user overrides
// only carry the recognized user-editable sections.
type Policy struct {
	LLM                   LLMSection               `json:"llm" yaml:"llm"`
	PromptEngineering     PromptEngineeringSection `json:"prompt_engineering" yaml:"prompt_engineering"`
	PromptInjectionFilter InjectionFilterSection   `json:"prompt_injection_filter" yaml:"prompt_injection_filter"`
	DelimiterFiltering    DelimiterSection         `json:"delimiter-filtering" yaml:"delimiter-filtering"`
	Logging               LoggingSection           `json:"logging" yaml:"logging"`
	Limits                LimitsSection            `json:"limits" yaml:"limits"`
}

// StoredPolicy is a policy document together with its optimistic-lock version.
type StoredPolicy struct {
	Tenant  string
	Version int64
	Policy  Policy
}

// EffectivePolicy is the immutable snapshot resolved for one request.
type EffectivePolicy struct {
	Tenant  string `json:"-"`
	Version int64  `json:"-"`
	Policy
}

// PolicyError reports an invalid policy field.
type PolicyError struct {
	Field string
	Value string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("invalid policy value %q for %s", e.Value, e.Field)
}

// DefaultPolicy returns the built-in global policy.
func DefaultPolicy() Policy {
	return Policy{
		LLM: LLMSection{
			Selected: DefaultModelKey,
			Models:   DefaultCatalog(),
		},
		PromptEngineering:     PromptEngineeringSection{Mode: PromptDisabled},
		PromptInjectionFilter: InjectionFilterSection{Mode: FilterDisabled},
		DelimiterFiltering:    DelimiterSection{Mode: DelimiterDisabled},
		Limits:                LimitsSection{DailySummarizeQuota: DefaultDailySummarizeQuota},
	}
}

// Clone returns a deep copy.
func (p Policy) Clone() Policy {
	out := p
	if p.LLM.Models != nil {
		out.LLM.Models = make([]ModelEntry, len(p.LLM.Models))
		for i, m := range p.LLM.Models {
			if m.Temperature != nil {
				t := *m.Temperature
				m.Temperature = &t
			}
			out.LLM.Models[i] = m
		}
	}
	return out
}

// Allowlist returns the enabled model keys in catalog order.
func (p Policy) Allowlist() []string {
	out := make([]string, 0, len(p.LLM.Models))
	for _, m := range p.LLM.Models {
		if m.Enabled {
			out = append(out, m.Key)
		}
	}
	return out
}

// Allows reports whether key is an enabled catalog entry.
func (p Policy) Allows(key string) bool {
	for _, m := range p.LLM.Models {
		if m.Enabled && m.Key == key {
			return true
		}
	}
	return false
}

// Model returns the catalog entry for key, enabled or not.
func (p Policy) Model(key string) (ModelEntry, bool) {
	for _, m := range p.LLM.Models {
		if m.Key == key {
			return m, true
		}
	}
	return ModelEntry{}, false
}

// Normalize fills empty modes with their disabled defaults.
func (p *Policy) Normalize() {
	p.LLM.Selected = strings.TrimSpace(p.LLM.Selected)
	if p.PromptEngineering.Mode == "" {
		p.PromptEngineering.Mode = PromptDisabled
	}
	if p.PromptInjectionFilter.Mode == "" {
		p.PromptInjectionFilter.Mode = FilterDisabled
	}
	if p.DelimiterFiltering.Mode == "" {
		p.DelimiterFiltering.Mode = DelimiterDisabled
	}
}

// Validate checks enumerated fields. Catalog membership of the selected model
// is checked by the resolver against the global allowlist.
func (p Policy) Validate() error {
	switch p.PromptEngineering.Mode {
	case PromptDisabled, PromptBasic, PromptSystem, PromptSpotlight:
	default:
		return &PolicyError{Field: "prompt_engineering.mode", Value: string(p.PromptEngineering.Mode)}
	}
	switch p.PromptInjectionFilter.Mode {
	case FilterDisabled, FilterPromptGuard, FilterPromptShields, FilterBedrockGuardrail:
	default:
		return &PolicyError{Field: "prompt_injection_filter.mode", Value: string(p.PromptInjectionFilter.Mode)}
	}
	switch p.DelimiterFiltering.Mode {
	case DelimiterDisabled, DelimiterRemove, DelimiterEscape:
	default:
		return &PolicyError{Field: "delimiter-filtering.mode", Value: string(p.DelimiterFiltering.Mode)}
	}
	if p.Limits.DailySummarizeQuota < 0 {
		return &PolicyError{Field: "limits.daily_summarize_quota", Value: fmt.Sprint(p.Limits.DailySummarizeQuota)}
	}
	seen := make(map[string]struct{}, len(p.LLM.Models))
	for _, m := range p.LLM.Models {
		if strings.TrimSpace(m.Key) == "" {
			return &PolicyError{Field: "llm.models.key", Value: m.Key}
		}
		if _, dup := seen[m.Key]; dup {
			return &PolicyError{Field: "llm.models.key", Value: m.Key}
		}
		seen[m.Key] = struct{}{}
	}
	return nil
}
