package app

import (
	"errors"
	"fmt"
	"log/slog"

	"mailguard/pkg/domain"
	"mailguard/pkg/store"
)

const maxPolicyRetries = 5

// PolicyPatch is a partial policy update. Only these sections are
// recognized; anything else in the request body is ignored, including the
// model catalog.
type PolicyPatch struct {
	LLM *struct {
		Selected *string `json:"selected"`
	} `json:"llm"`
	PromptEngineering     *domain.PromptEngineeringSection `json:"prompt_engineering"`
	PromptInjectionFilter *domain.InjectionFilterSection   `json:"prompt_injection_filter"`
	DelimiterFiltering    *domain.DelimiterSection         `json:"delimiter-filtering"`
	Logging               *domain.LoggingSection           `json:"logging"`
}

func (p PolicyPatch) apply(dst *domain.Policy) {
	if p.LLM != nil && p.LLM.Selected != nil {
		dst.LLM.Selected = *p.LLM.Selected
	}
	if p.PromptEngineering != nil {
		dst.PromptEngineering = *p.PromptEngineering
	}
	if p.PromptInjectionFilter != nil {
		dst.PromptInjectionFilter = *p.PromptInjectionFilter
	}
	if p.DelimiterFiltering != nil {
		dst.DelimiterFiltering = *p.DelimiterFiltering
	}
	if p.Logging != nil {
		dst.Logging = *p.Logging
	}
}

// PolicyResolver resolves and updates the global policy and per-user overrides.
type PolicyResolver struct {
	store store.PolicyStore
}

// NewPolicyResolver builds a resolver over a policy store.
func NewPolicyResolver(s store.PolicyStore) *PolicyResolver {
	return &PolicyResolver{store: s}
}

// Bootstrap writes seed as the global policy unless one is already stored.
func (r *PolicyResolver) Bootstrap(seed domain.Policy) error {
	seed.Normalize()
	if err := seed.Validate(); err != nil {
		return fmt.Errorf("bootstrap policy: %w", err)
	}
	if len(seed.LLM.Models) == 0 {
		seed.LLM.Models = domain.DefaultCatalog()
	}
	_, err := r.store.CompareAndSwapPolicy(domain.GlobalTenant, 0, seed)
	if errors.Is(err, store.ErrPolicyConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap policy: %w", err)
	}
	slog.Info("global policy bootstrapped", "selected", seed.LLM.Selected, "models", len(seed.LLM.Models))
	return nil
}

// Global returns the stored global policy, or the built-in default.
func (r *PolicyResolver) Global() (domain.StoredPolicy, error) {
	sp, ok, err := r.store.GetPolicy(domain.GlobalTenant)
	if err != nil {
		return domain.StoredPolicy{}, fmt.Errorf("load global policy: %w", err)
	}
	if !ok {
		return domain.StoredPolicy{Tenant: domain.GlobalTenant, Policy: domain.DefaultPolicy()}, nil
	}
	sp.Policy.Normalize()
	return sp, nil
}

// Resolve returns the immutable policy snapshot for one request. Admins get
// the global policy, users their override when present. The catalog and the
// limits always come from the global policy.
func (r *PolicyResolver) Resolve(principal domain.User) (domain.EffectivePolicy, error) {
	global, err := r.Global()
	if err != nil {
		return domain.EffectivePolicy{}, err
	}
	eff := domain.EffectivePolicy{Tenant: global.Tenant, Version: global.Version, Policy: global.Policy.Clone()}
	if !principal.IsAdmin() {
		override, ok, err := r.store.GetPolicy(principal.ID)
		if err != nil {
			return domain.EffectivePolicy{}, fmt.Errorf("load policy override: %w", err)
		}
		if ok {
			p := override.Policy
			p.Normalize()
			p.LLM.Models = eff.LLM.Models
			p.Limits = eff.Limits
			eff = domain.EffectivePolicy{Tenant: override.Tenant, Version: override.Version, Policy: p}
		}
	}
	eff.LLM.Selected = SelectModel(eff.Policy).Key
	return eff, nil
}

// Update merges patch onto the principal's tenant (global for admins) and
// persists it with a version check, retrying on concurrent writers.
func (r *PolicyResolver) Update(principal domain.User, patch PolicyPatch) (domain.EffectivePolicy, error) {
	tenant := principal.ID
	if principal.IsAdmin() {
		tenant = domain.GlobalTenant
	}
	for attempt := 0; attempt < maxPolicyRetries; attempt++ {
		global, err := r.Global()
		if err != nil {
			return domain.EffectivePolicy{}, err
		}
		current := global
		if tenant != domain.GlobalTenant {
			sp, ok, err := r.store.GetPolicy(tenant)
			if err != nil {
				return domain.EffectivePolicy{}, fmt.Errorf("load policy override: %w", err)
			}
			if ok {
				current = sp
			} else {
				current = domain.StoredPolicy{Tenant: tenant, Policy: SeedPolicy(global.Policy)}
			}
		}

		next := current.Policy.Clone()
		patch.apply(&next)
		next.Normalize()
		if err := next.Validate(); err != nil {
			return domain.EffectivePolicy{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
		}
		if next.LLM.Selected != "" && !global.Policy.Allows(next.LLM.Selected) {
			return domain.EffectivePolicy{}, &ModelNotAllowedError{Model: next.LLM.Selected, Allowed: global.Policy.Allowlist()}
		}
		if tenant != domain.GlobalTenant {
			next.LLM.Models = nil
			next.Limits = domain.LimitsSection{}
		}

		_, err = r.store.CompareAndSwapPolicy(tenant, current.Version, next)
		if errors.Is(err, store.ErrPolicyConflict) {
			continue
		}
		if err != nil {
			return domain.EffectivePolicy{}, fmt.Errorf("save policy: %w", err)
		}
		return r.Resolve(principal)
	}
	return domain.EffectivePolicy{}, fmt.Errorf("save policy: %w", store.ErrPolicyConflict)
}

// SetDailyQuota changes the global daily summarize limit.
func (r *PolicyResolver) SetDailyQuota(limit int) (domain.Policy, error) {
	if limit < 0 {
		return domain.Policy{}, fmt.Errorf("%w: daily_summarize_quota must be >= 0", ErrInvalidPolicy)
	}
	return r.mutateGlobal(func(p *domain.Policy) error {
		p.Limits.DailySummarizeQuota = limit
		return nil
	})
}

// SetModelEnabled toggles one catalog entry in the global policy.
func (r *PolicyResolver) SetModelEnabled(key string, enabled bool) (domain.Policy, error) {
	return r.mutateGlobal(func(p *domain.Policy) error {
		for i := range p.LLM.Models {
			if p.LLM.Models[i].Key == key {
				p.LLM.Models[i].Enabled = enabled
				return nil
			}
		}
		return fmt.Errorf("%w: model %q", ErrNotFound, key)
	})
}

func (r *PolicyResolver) mutateGlobal(fn func(*domain.Policy) error) (domain.Policy, error) {
	for attempt := 0; attempt < maxPolicyRetries; attempt++ {
		global, err := r.Global()
		if err != nil {
			return domain.Policy{}, err
		}
		next := global.Policy.Clone()
		if err := fn(&next); err != nil {
			return domain.Policy{}, err
		}
		_, err = r.store.CompareAndSwapPolicy(domain.GlobalTenant, global.Version, next)
		if errors.Is(err, store.ErrPolicyConflict) {
			continue
		}
		if err != nil {
			return domain.Policy{}, fmt.Errorf("save global policy: %w", err)
		}
		return next, nil
	}
	return domain.Policy{}, fmt.Errorf("save global policy: %w", store.ErrPolicyConflict)
}

// SeedPolicy is the override written for a new user: a copy of the global
// user-editable sections without catalog or limits.
func SeedPolicy(global domain.Policy) domain.Policy {
	seed := global.Clone()
	seed.LLM.Models = nil
	seed.Limits = domain.LimitsSection{}
	return seed
}

// SelectModel returns the catalog entry to use for p: the selected model when
// enabled, else the first enabled model, else the default model.
func SelectModel(p domain.Policy) domain.ModelEntry {
	if p.Allows(p.LLM.Selected) {
		m, _ := p.Model(p.LLM.Selected)
		return m
	}
	for _, m := range p.LLM.Models {
		if m.Enabled {
			return m
		}
	}
	if m, ok := p.Model(domain.DefaultModelKey); ok {
		return m
	}
	for _, m := range domain.DefaultCatalog() {
		if m.Key == domain.DefaultModelKey {
			return m
		}
	}
	return domain.ModelEntry{Key: domain.DefaultModelKey, Provider: "openai", Model: "gpt-4o"}
}
