package types

import (
	"fmt"
	"time"
)

// DefaultMaxIterations bounds the validation loop when the caller does not
// configure a limit. Empirically chosen, see converge.Config.
const DefaultMaxIterations = 5

// IterationRecord captures one complete pass of the validation loop. Records
// are owned exclusively by their ConvergenceState and are never mutated after
// being appended.
//
// Nullable fields encode how far the iteration got: a pre-review rejection
// leaves Execution, Alignment and Quality nil; an execution failure leaves
// Alignment and Quality nil; a converged iteration leaves Feedback nil.
type IterationRecord struct {
	Iteration int               `json:"iteration"`
	Candidate *Candidate        `json:"candidate"`
	Review    *ReviewVerdict    `json:"review,omitempty"`
	Execution *ExecutionResult  `json:"execution,omitempty"`
	Alignment *AlignmentVerdict `json:"alignment,omitempty"`
	Quality   *QualityVerdict   `json:"quality,omitempty"`
	Feedback  *Feedback         `json:"feedback,omitempty"`
}

// Rated reports whether this iteration reached the quality phase and
// therefore competes for best_iteration.
func (r *IterationRecord) Rated() bool {
	return r.Quality != nil
}

// ConvergenceState is the loop's running memory for one validation request.
// It is created at request start and discarded at request end; only artifacts
// the loop (or a caller override) approves flow into the artifact store.
type ConvergenceState struct {
	// Records are appended in strictly increasing iteration order
	Records []*IterationRecord `json:"records"`

	Converged     bool `json:"converged"`
	MaxIterations int  `json:"max_iterations"`

	// Best points at the rated record with the highest final rating seen so
	// far. Ties keep the earlier, cheaper iteration. Nil until some
	// iteration reaches the quality phase.
	Best *IterationRecord `json:"-"`

	StartedAt time.Time `json:"started_at"`
}

// NewConvergenceState creates the running memory for one validation request
func NewConvergenceState(maxIterations int) *ConvergenceState {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &ConvergenceState{
		MaxIterations: maxIterations,
		StartedAt:     time.Now(),
	}
}

// Append adds a completed iteration record and updates the best pointer.
// Records must arrive in strictly increasing iteration order.
func (s *ConvergenceState) Append(rec *IterationRecord) error {
	if rec == nil {
		return fmt.Errorf("record is required")
	}
	if want := len(s.Records) + 1; rec.Iteration != want {
		return fmt.Errorf("out-of-order iteration record: got %d, want %d", rec.Iteration, want)
	}
	s.Records = append(s.Records, rec)

	// Strictly-greater update keeps the earlier iteration on ties
	if rec.Rated() && (s.Best == nil || rec.Quality.FinalRating > s.Best.Quality.FinalRating) {
		s.Best = rec
	}
	return nil
}

// IterationsUsed returns how many loop passes have been recorded
func (s *ConvergenceState) IterationsUsed() int {
	return len(s.Records)
}

// Last returns the most recent iteration record, or nil before the first pass
func (s *ConvergenceState) Last() *IterationRecord {
	if len(s.Records) == 0 {
		return nil
	}
	return s.Records[len(s.Records)-1]
}

// FallbackArtifact picks the candidate to return when the loop ends without
// convergence: the best rated iteration, or the most recent candidate when no
// iteration ever reached the quality phase.
func (s *ConvergenceState) FallbackArtifact() *Candidate {
	if s.Best != nil {
		return s.Best.Candidate
	}
	if last := s.Last(); last != nil {
		return last.Candidate
	}
	return nil
}
