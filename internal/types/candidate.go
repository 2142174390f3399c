package types

import "fmt"

// GenerationMode describes how a candidate was produced
type GenerationMode string

const (
	// ModeFresh is a from-scratch synthesis (always iteration 1)
	ModeFresh GenerationMode = "fresh"

	// ModeRefined is a revision of a previous candidate driven by feedback
	ModeRefined GenerationMode = "refined"
)

// IsValid checks if the generation mode value is valid
func (m GenerationMode) IsValid() bool {
	switch m {
	case ModeFresh, ModeRefined:
		return true
	}
	return false
}

// Candidate is one generated simulation program attempting to satisfy a
// Specification. A candidate is owned exclusively by its IterationRecord.
type Candidate struct {
	// Iteration is the 1-based loop pass that produced this candidate
	Iteration int `json:"iteration"`

	// Source is the program text
	Source string `json:"source"`

	// Mode records whether this was a fresh synthesis or a refinement
	Mode GenerationMode `json:"mode"`

	// Parent is the candidate this one refines. Nil for fresh candidates,
	// always non-nil for refined ones.
	Parent *Candidate `json:"-"`
}

// Validate enforces the generation invariants: iteration 1 is always fresh,
// later iterations are always refinements of a parent.
func (c *Candidate) Validate() error {
	if c.Iteration < 1 {
		return fmt.Errorf("iteration must be >= 1 (got %d)", c.Iteration)
	}
	if c.Source == "" {
		return fmt.Errorf("source is required")
	}
	if !c.Mode.IsValid() {
		return fmt.Errorf("invalid generation mode: %s", c.Mode)
	}
	if c.Iteration == 1 && c.Mode != ModeFresh {
		return fmt.Errorf("iteration 1 must be fresh (got %s)", c.Mode)
	}
	if c.Iteration > 1 {
		if c.Mode != ModeRefined {
			return fmt.Errorf("iteration %d must be refined (got %s)", c.Iteration, c.Mode)
		}
		if c.Parent == nil {
			return fmt.Errorf("refined candidate at iteration %d requires a parent", c.Iteration)
		}
	}
	return nil
}
