// Package artifacts persists approved simulation programs for reuse as
// exemplars. The store is a simple keyed persistence layer: the caller
// computes the specification fingerprint, and the convergence controller,
// not the store, decides which artifacts are good enough to keep.
package artifacts

import (
	"context"
	"time"
)

// Artifact is one stored simulation program with its provenance
type Artifact struct {
	// Fingerprint is the caller-computed specification identity key
	Fingerprint string `json:"fingerprint"`

	// Source is the candidate program text
	Source string `json:"source"`

	// FinalRating is the 0-10 quality rating the artifact converged with
	FinalRating int `json:"final_rating"`

	// SpecSummary is a one-line description of the specification the
	// artifact satisfies
	SpecSummary string `json:"spec_summary"`

	StoredAt time.Time `json:"stored_at"`
}

// Store defines the artifact persistence backend. Writes may arrive
// concurrently from parallel validation requests; implementations provide
// atomic per-key upsert with quality-max-wins semantics (a higher-rated
// artifact for the same fingerprint replaces a lower-rated one, never the
// reverse).
type Store interface {
	// Put upserts an artifact. A put losing to an existing higher-rated
	// artifact for the same fingerprint is a silent no-op, not an error.
	Put(ctx context.Context, artifact *Artifact) error

	// Get returns the artifact for a fingerprint, or nil if none is stored
	Get(ctx context.Context, fingerprint string) (*Artifact, error)

	// List returns all stored artifacts, most recently stored first
	List(ctx context.Context) ([]*Artifact, error)

	// Lifecycle
	Close() error
}
