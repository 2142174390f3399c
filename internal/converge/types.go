// Package converge implements the convergent validation loop: synthesize a
// candidate, critique it before spending execution resources, run it in the
// sandbox, judge alignment and quality, and either accept or fold the
// negative outcome into feedback for the next pass.
//
// The loop is a single logical sequence per validation request. Concurrency
// lives across requests, not within one: each request owns its
// ConvergenceState, and the only shared collaborator is the artifact store.
//
// Every recoverable outcome is a typed Feedback value driving the next
// iteration, not an exception. Only a transport-level oracle failure aborts
// a request; running out of iterations is a normal, reportable result.
package converge

import (
	"context"
	"time"

	"github.com/simforge/simforge/internal/sandbox"
	"github.com/simforge/simforge/internal/types"
)

// Config controls the loop's thresholds. The numbers are empirically chosen
// tunables with no principled derivation, which is exactly why they are
// configuration instead of constants.
type Config struct {
	// MaxIterations bounds the loop (default: 5)
	MaxIterations int

	// AlignmentThreshold is the minimum alignment score for acceptance
	// (default: 7)
	AlignmentThreshold int

	// QualityThreshold is the minimum final rating for acceptance
	// (default: 6)
	QualityThreshold int

	// StoreThreshold is the minimum final rating for artifact store
	// eligibility (default: 6). Enforced here, not by the store.
	StoreThreshold int

	// Limits are the sandbox constraints applied to every execution
	Limits sandbox.Limits
}

// DefaultConfig returns the standard loop configuration
func DefaultConfig() Config {
	return Config{
		MaxIterations:      types.DefaultMaxIterations,
		AlignmentThreshold: 7,
		QualityThreshold:   6,
		StoreThreshold:     6,
		Limits:             sandbox.DefaultLimits(),
	}
}

// Executor runs one candidate in isolation. *sandbox.Runner is the production
// implementation; tests substitute a scripted one.
type Executor interface {
	Run(ctx context.Context, candidate *types.Candidate, limits sandbox.Limits) (*types.ExecutionResult, error)
}

// Reason explains why the loop stopped
type Reason string

const (
	// ReasonConverged means a candidate cleared every acceptance gate
	ReasonConverged Reason = "converged"

	// ReasonExhausted means the iteration budget ran out; the best rated
	// candidate is returned as a fallback
	ReasonExhausted Reason = "max iterations"

	// ReasonCanceled means the caller aborted the request
	ReasonCanceled Reason = "canceled"
)

// Result is the caller-facing outcome of one validation request. The caller
// always receives an artifact plus an explicit trust signal; an unconverged
// artifact must never be presented with the confidence of a converged one.
type Result struct {
	// FinalArtifact is the accepted candidate, or the best-effort fallback
	// when the loop did not converge. Nil only if cancellation struck
	// before the first candidate existed.
	FinalArtifact *types.Candidate

	Converged      bool
	Reason         Reason
	IterationsUsed int
	ElapsedTime    time.Duration

	// History summarizes each recorded iteration for display
	History []IterationSummary

	// State is the full loop memory, for callers that need more than the
	// summaries
	State *types.ConvergenceState
}

// IterationSummary is the per-iteration digest surfaced to callers
type IterationSummary struct {
	Iteration      int             `json:"iteration"`
	Outcome        string          `json:"outcome"`
	IssueType      types.IssueType `json:"issue_type,omitempty"`
	AlignmentScore int             `json:"alignment_score,omitempty"`
	FinalRating    int             `json:"final_rating,omitempty"`
}

// summarize digests a record for the caller-facing history
func summarize(rec *types.IterationRecord) IterationSummary {
	s := IterationSummary{Iteration: rec.Iteration}

	switch {
	case rec.Review != nil && !rec.Review.Approved:
		s.Outcome = "rejected in pre-execution review"
	case rec.Execution != nil && !rec.Execution.Success:
		s.Outcome = "execution failed: " + string(rec.Execution.ErrorClass)
	case rec.Quality != nil && rec.Feedback == nil:
		s.Outcome = "accepted"
	case rec.Quality != nil:
		s.Outcome = "judged insufficient"
	default:
		s.Outcome = "oracle response malformed"
	}

	if rec.Feedback != nil {
		s.IssueType = rec.Feedback.IssueType
	}
	if rec.Alignment != nil {
		s.AlignmentScore = rec.Alignment.AlignmentScore
	}
	if rec.Quality != nil {
		s.FinalRating = rec.Quality.FinalRating
	}
	return s
}
