// Package oracle provides the uniform gateway to the external
// generation/critique capability. The validation loop talks to the oracle
// only through the Gateway interface, so its correctness can be tested with
// a deterministic scripted stand-in.
package oracle

import (
	"context"

	"github.com/simforge/simforge/internal/types"
)

// SynthesisRequest asks the oracle to produce or refine a candidate program.
// For refinements the parent candidate and the feedback travel together, so
// regeneration is never a start-from-nothing request: the synthesizer is
// instructed to preserve everything the feedback does not implicate.
type SynthesisRequest struct {
	Spec      *types.Specification
	Mode      types.GenerationMode
	Iteration int

	// Parent and Feedback are required for refined mode, nil for fresh
	Parent   *types.Candidate
	Feedback *types.Feedback
}

// JudgeRequest asks the oracle for a structured verdict on one phase.
// Phase-specific context fields are nil when not applicable.
type JudgeRequest struct {
	Spec      *types.Specification
	Candidate *types.Candidate
	Phase     types.Phase

	// Execution is required for post_execution and quality phases
	Execution *types.ExecutionResult

	// Alignment is required for the quality phase; the quality judge must
	// see the alignment verdict so its rating can be demoted against it
	Alignment *types.AlignmentVerdict

	// PriorFeedback, when present, parameterizes the judge with "you
	// previously advised X; check consistency" context
	PriorFeedback *types.Feedback
}

// Gateway is the boundary to the external oracle. Exactly two operations:
// synthesize a candidate, or judge one. The gateway never drives the
// iteration loop; retry-via-feedback policy belongs entirely to the
// convergence controller. Responses are always structured data: a response
// that cannot be parsed into the expected shape surfaces as a
// *MalformedResponseError, never as prose the controller must interpret.
type Gateway interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*types.Candidate, error)
	Judge(ctx context.Context, req JudgeRequest) (*types.Verdict, error)
}
