// Package policyfile loads and checks the bootstrap global policy document.
package policyfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"mailguard/pkg/ai"
	"mailguard/pkg/domain"
)

// Load reads a YAML policy. An empty path returns the built-in default.
// Unknown fields are rejected so typos in mode names surface early.
func Load(path string) (domain.Policy, error) {
	if strings.TrimSpace(path) == "" {
		return domain.DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML policy. Missing sections keep their defaults.
func Parse(data []byte) (domain.Policy, error) {
	p := domain.DefaultPolicy()
	p.LLM.Models = nil
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return domain.Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if len(p.LLM.Models) == 0 {
		p.LLM.Models = domain.DefaultCatalog()
	}
	p.Normalize()
	return p, nil
}

// Check returns every problem found in p, not only the first.
func Check(p domain.Policy) []error {
	var errs []error
	if err := p.Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, m := range p.LLM.Models {
		if !ai.KnownProvider(m.Provider) {
			errs = append(errs, fmt.Errorf("model %q: unknown provider %q", m.Key, m.Provider))
		}
		if strings.TrimSpace(m.Model) == "" {
			errs = append(errs, fmt.Errorf("model %q: empty provider model id", m.Key))
		}
		if m.Temperature != nil && (*m.Temperature < 0 || *m.Temperature > 2) {
			errs = append(errs, fmt.Errorf("model %q: temperature %v out of range", m.Key, *m.Temperature))
		}
	}
	if len(p.Allowlist()) == 0 {
		errs = append(errs, errors.New("no model is enabled"))
	}
	if p.LLM.Selected != "" && !p.Allows(p.LLM.Selected) {
		errs = append(errs, fmt.Errorf("selected model %q is not enabled", p.LLM.Selected))
	}
	return errs
}
