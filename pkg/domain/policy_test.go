package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	if !p.Allows(DefaultModelKey) {
		t.Fatalf("default model %q should be enabled", DefaultModelKey)
	}
	if p.Limits.DailySummarizeQuota != DefaultDailySummarizeQuota {
		t.Fatalf("unexpected default quota: %d", p.Limits.DailySummarizeQuota)
	}
}

func TestPolicyCloneIsDeep(t *testing.T) {
	p := DefaultPolicy()
	c := p.Clone()
	c.LLM.Models[0].Enabled = false
	*c.LLM.Models[0].Temperature = 0.7
	if !p.LLM.Models[0].Enabled {
		t.Fatalf("clone shares models slice")
	}
	if *p.LLM.Models[0].Temperature != 0 {
		t.Fatalf("clone shares temperature pointer")
	}
}

func TestAllowlistKeepsCatalogOrder(t *testing.T) {
	p := Policy{LLM: LLMSection{Models: []ModelEntry{
		{Key: "modelB", Enabled: true},
		{Key: "modelC"},
		{Key: "modelA", Enabled: true},
	}}}
	want := []string{"modelB", "modelA"}
	if got := p.Allowlist(); !reflect.DeepEqual(got, want) {
		t.Fatalf("allowlist = %v, want %v", got, want)
	}
	if p.Allows("modelC") {
		t.Fatalf("disabled model must not be allowed")
	}
	if _, ok := p.Model("modelC"); !ok {
		t.Fatalf("disabled model should still be in catalog")
	}
}

func TestPolicyValidateRejectsUnknownModes(t *testing.T) {
	p := DefaultPolicy()
	p.DelimiterFiltering.Mode = "shred"
	var perr *PolicyError
	if err := p.Validate(); !errors.As(err, &perr) || perr.Field != "delimiter-filtering.mode" {
		t.Fatalf("expected delimiter policy error, got %v", err)
	}

	p = DefaultPolicy()
	p.LLM.Models = append(p.LLM.Models, ModelEntry{Key: DefaultModelKey})
	if err := p.Validate(); err == nil {
		t.Fatalf("expected duplicate catalog key to fail")
	}
}

func TestPolicyNormalizeFillsDisabledModes(t *testing.T) {
	var p Policy
	p.Normalize()
	if p.PromptEngineering.Mode != PromptDisabled || p.PromptInjectionFilter.Mode != FilterDisabled || p.DelimiterFiltering.Mode != DelimiterDisabled {
		t.Fatalf("normalize left empty modes: %+v", p)
	}
}
