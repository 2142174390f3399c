package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Specification is the immutable target a candidate simulation must satisfy.
// It is constructed entirely by the upstream design component; the validation
// loop never parses raw user text itself.
type Specification struct {
	// Intent is the human-readable description of what the simulation models
	Intent string `json:"intent" yaml:"intent"`

	// Elements are the named constituent parts of the simulation
	Elements []Element `json:"elements" yaml:"elements"`

	// ExpectedOutcomes describes what a correct run should show. Free text,
	// consumed only by the oracle, never parsed by the loop.
	ExpectedOutcomes string `json:"expected_outcomes,omitempty" yaml:"expected_outcomes,omitempty"`
}

// Element is one named constituent of a specification
type Element struct {
	Name   string            `json:"name" yaml:"name"`
	Type   string            `json:"type" yaml:"type"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`

	// Critical marks an element whose absence from a candidate forces a
	// quality demotion regardless of what the judge says
	Critical bool `json:"critical,omitempty" yaml:"critical,omitempty"`
}

// Validate checks if the specification has valid field values
func (s *Specification) Validate() error {
	if strings.TrimSpace(s.Intent) == "" {
		return fmt.Errorf("intent is required")
	}
	if len(s.Elements) == 0 {
		return fmt.Errorf("at least one element is required")
	}
	seen := make(map[string]bool, len(s.Elements))
	for i, el := range s.Elements {
		if strings.TrimSpace(el.Name) == "" {
			return fmt.Errorf("element %d: name is required", i)
		}
		if strings.TrimSpace(el.Type) == "" {
			return fmt.Errorf("element %q: type is required", el.Name)
		}
		if seen[el.Name] {
			return fmt.Errorf("duplicate element name: %s", el.Name)
		}
		seen[el.Name] = true
	}
	return nil
}

// CriticalElements returns the names of elements marked critical
func (s *Specification) CriticalElements() []string {
	var names []string
	for _, el := range s.Elements {
		if el.Critical {
			names = append(names, el.Name)
		}
	}
	return names
}

// Summary returns a one-line description suitable for artifact store records
func (s *Specification) Summary() string {
	names := make([]string, len(s.Elements))
	for i, el := range s.Elements {
		names[i] = el.Name
	}
	intent := s.Intent
	if len(intent) > 200 {
		intent = intent[:200] + "..."
	}
	return fmt.Sprintf("%s [elements: %s]", intent, strings.Join(names, ", "))
}

// Fingerprint computes a stable identity key for artifact store lookups.
// Element order does not affect the fingerprint; params do.
func (s *Specification) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "intent:%s\n", strings.TrimSpace(s.Intent))

	elements := make([]string, 0, len(s.Elements))
	for _, el := range s.Elements {
		keys := make([]string, 0, len(el.Params))
		for k := range el.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		fmt.Fprintf(&b, "%s|%s|%v", el.Name, el.Type, el.Critical)
		for _, k := range keys {
			fmt.Fprintf(&b, "|%s=%s", k, el.Params[k])
		}
		elements = append(elements, b.String())
	}
	sort.Strings(elements)
	for _, e := range elements {
		fmt.Fprintf(h, "element:%s\n", e)
	}
	return hex.EncodeToString(h.Sum(nil))
}
