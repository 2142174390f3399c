package converge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/simforge/simforge/internal/artifacts"
	"github.com/simforge/simforge/internal/feedback"
	"github.com/simforge/simforge/internal/oracle"
	"github.com/simforge/simforge/internal/types"
)

// Controller sequences the validation loop for one specification at a time.
// A single Controller may serve many requests concurrently; it holds no
// per-request state.
type Controller struct {
	gateway  oracle.Gateway
	executor Executor
	store    artifacts.Store // optional; nil disables persistence
	cfg      Config
}

// NewController creates a controller. The artifact store may be nil.
func NewController(gateway oracle.Gateway, executor Executor, store artifacts.Store, cfg Config) (*Controller, error) {
	if gateway == nil {
		return nil, fmt.Errorf("oracle gateway is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = types.DefaultMaxIterations
	}
	// Zero is a legal threshold (accept anything), so it cannot double as
	// an unset marker. DefaultConfig is the place defaults come from.
	for name, v := range map[string]int{
		"alignment threshold": cfg.AlignmentThreshold,
		"quality threshold":   cfg.QualityThreshold,
		"store threshold":     cfg.StoreThreshold,
	} {
		if v < 0 || v > 10 {
			return nil, fmt.Errorf("%s must be between 0 and 10 (got %d)", name, v)
		}
	}
	return &Controller{gateway: gateway, executor: executor, store: store, cfg: cfg}, nil
}

// Validate runs the convergent validation loop for one specification.
//
// Recoverable outcomes (rejection, execution failure, low scores, malformed
// oracle responses) never surface as errors: they drive feedback cycles until
// a candidate converges or the iteration budget runs out, and exhaustion is a
// normal result with Converged=false. The error return is reserved for an
// unusable oracle transport and for host-side executor failures.
func (c *Controller) Validate(ctx context.Context, spec *types.Specification) (*Result, error) {
	if spec == nil {
		return nil, fmt.Errorf("specification is required")
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid specification: %w", err)
	}

	start := time.Now()
	state := types.NewConvergenceState(c.cfg.MaxIterations)

	var prevCandidate *types.Candidate
	var prevFeedback *types.Feedback

	for attempt := 1; attempt <= c.cfg.MaxIterations; attempt++ {
		// Cancellation is observable at iteration boundaries
		if ctx.Err() != nil {
			return c.finish(state, ReasonCanceled, start), nil
		}

		rec, fb, err := c.runIteration(ctx, spec, state, prevCandidate, prevFeedback)
		if err != nil {
			if isCancellation(ctx, err) {
				return c.finish(state, ReasonCanceled, start), nil
			}
			return nil, err
		}

		if rec != nil {
			if err := state.Append(rec); err != nil {
				return nil, err
			}
			prevCandidate = rec.Candidate
		}

		if rec != nil && fb == nil {
			// Accepted
			state.Converged = true
			result := c.finish(state, ReasonConverged, start)
			c.persist(ctx, spec, rec)
			return result, nil
		}

		prevFeedback = fb
	}

	return c.finish(state, ReasonExhausted, start), nil
}

// runIteration performs one loop pass. It returns the iteration record (nil
// when synthesis itself produced nothing recordable), the feedback for the
// next pass (nil on acceptance), or an error for fatal conditions only.
func (c *Controller) runIteration(ctx context.Context, spec *types.Specification, state *types.ConvergenceState, prevCandidate *types.Candidate, prevFeedback *types.Feedback) (*types.IterationRecord, *types.Feedback, error) {
	iteration := state.IterationsUsed() + 1

	// Synthesize. Refinements always carry the previous candidate and the
	// feedback together so regeneration is never a start-from-nothing
	// request.
	req := oracle.SynthesisRequest{
		Spec:      spec,
		Mode:      types.ModeFresh,
		Iteration: iteration,
		Feedback:  prevFeedback,
	}
	if prevCandidate != nil {
		req.Mode = types.ModeRefined
		req.Parent = prevCandidate
	}

	candidate, err := c.gateway.Synthesize(ctx, req)
	if err != nil {
		if m, ok := oracle.IsMalformed(err); ok {
			// Nothing recordable was produced; spend the attempt asking
			// for a well-formed response
			slog.Warn("malformed synthesis response", "iteration", iteration, "reason", m.Reason)
			return nil, feedback.BuildMalformed(m.Reason, prevFeedback), nil
		}
		return nil, nil, err
	}

	rec := &types.IterationRecord{Iteration: iteration, Candidate: candidate}

	// Pre-review: no execution resources are spent on a rejected candidate
	verdict, err := c.gateway.Judge(ctx, oracle.JudgeRequest{
		Spec:          spec,
		Candidate:     candidate,
		Phase:         types.PhasePreReview,
		PriorFeedback: prevFeedback,
	})
	if err != nil {
		return c.recoverJudgeError(ctx, rec, prevFeedback, err)
	}
	if verdict.Review == nil {
		return c.recoverJudgeError(ctx, rec, prevFeedback, wrongShape(types.PhasePreReview))
	}
	rec.Review = verdict.Review
	if !verdict.Review.Approved {
		rec.Feedback = feedback.BuildReview(verdict.Review, prevFeedback)
		return rec, rec.Feedback, nil
	}

	// Execute in the sandbox
	execResult, err := c.executor.Run(ctx, candidate, c.cfg.Limits)
	if err != nil {
		if isCancellation(ctx, err) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("executor failed: %w", err)
	}
	rec.Execution = execResult
	if !execResult.Success {
		rec.Feedback = feedback.BuildExecution(execResult, prevFeedback)
		return rec, rec.Feedback, nil
	}

	// Alignment judgment over the execution results
	verdict, err = c.gateway.Judge(ctx, oracle.JudgeRequest{
		Spec:          spec,
		Candidate:     candidate,
		Phase:         types.PhasePostExecution,
		Execution:     execResult,
		PriorFeedback: prevFeedback,
	})
	if err != nil {
		return c.recoverJudgeError(ctx, rec, prevFeedback, err)
	}
	if verdict.Alignment == nil {
		return c.recoverJudgeError(ctx, rec, prevFeedback, wrongShape(types.PhasePostExecution))
	}
	rec.Alignment = verdict.Alignment

	// Quality reflection, parameterized with the alignment verdict
	verdict, err = c.gateway.Judge(ctx, oracle.JudgeRequest{
		Spec:          spec,
		Candidate:     candidate,
		Phase:         types.PhaseQuality,
		Execution:     execResult,
		Alignment:     rec.Alignment,
		PriorFeedback: prevFeedback,
	})
	if err != nil {
		return c.recoverJudgeError(ctx, rec, prevFeedback, err)
	}
	if verdict.Quality == nil {
		return c.recoverJudgeError(ctx, rec, prevFeedback, wrongShape(types.PhaseQuality))
	}
	rec.Quality = verdict.Quality

	// The demotion rule holds no matter what the judge returned
	rec.Quality.Demote(rec.Alignment, spec)

	// Acceptance gates
	if rec.Alignment.AlignmentScore >= c.cfg.AlignmentThreshold &&
		rec.Alignment.ModelsSpecification &&
		rec.Quality.FinalRating >= c.cfg.QualityThreshold {
		return rec, nil, nil
	}

	if rec.Alignment.AlignmentScore < c.cfg.AlignmentThreshold || !rec.Alignment.ModelsSpecification {
		rec.Feedback = feedback.BuildAlignment(rec.Alignment, prevFeedback)
	} else {
		rec.Feedback = feedback.BuildQuality(rec.Quality, prevFeedback)
	}
	return rec, rec.Feedback, nil
}

// recoverJudgeError folds a malformed judge response into an
// execution-equivalent feedback cycle; anything else is fatal
func (c *Controller) recoverJudgeError(ctx context.Context, rec *types.IterationRecord, prevFeedback *types.Feedback, err error) (*types.IterationRecord, *types.Feedback, error) {
	if isCancellation(ctx, err) {
		return nil, nil, err
	}
	if m, ok := oracle.IsMalformed(err); ok {
		slog.Warn("malformed judge response", "iteration", rec.Iteration, "phase", m.Phase, "reason", m.Reason)
		rec.Feedback = feedback.BuildMalformed(m.Reason, prevFeedback)
		return rec, rec.Feedback, nil
	}
	return nil, nil, err
}

// persist writes an accepted artifact to the store when it clears the
// eligibility threshold. Storage trouble never fails a converged request.
func (c *Controller) persist(ctx context.Context, spec *types.Specification, rec *types.IterationRecord) {
	if c.store == nil || rec.Quality == nil || rec.Quality.FinalRating < c.cfg.StoreThreshold {
		return
	}
	err := c.store.Put(ctx, &artifacts.Artifact{
		Fingerprint: spec.Fingerprint(),
		Source:      rec.Candidate.Source,
		FinalRating: rec.Quality.FinalRating,
		SpecSummary: spec.Summary(),
	})
	if err != nil {
		slog.Warn("failed to persist converged artifact", "error", err)
	}
}

// finish assembles the caller-facing result from the loop state
func (c *Controller) finish(state *types.ConvergenceState, reason Reason, start time.Time) *Result {
	result := &Result{
		Converged:      state.Converged,
		Reason:         reason,
		IterationsUsed: state.IterationsUsed(),
		ElapsedTime:    time.Since(start),
		State:          state,
	}

	if reason == ReasonConverged {
		result.FinalArtifact = state.Last().Candidate
	} else {
		result.FinalArtifact = state.FallbackArtifact()
	}

	for _, rec := range state.Records {
		result.History = append(result.History, summarize(rec))
	}
	return result
}

// wrongShape flags a verdict whose populated shape does not match the phase
// that was requested
func wrongShape(phase types.Phase) error {
	return &oracle.MalformedResponseError{
		Phase:     phase,
		Operation: "judge",
		Reason:    "verdict shape does not match requested phase",
	}
}

// isCancellation distinguishes caller aborts from transport failures. A dead
// caller context is always a cancellation, whatever wrapping the error picked
// up on the way out; beyond that, a transport error can wrap a per-attempt
// deadline, so ErrUnavailable wins over the error-shape check.
func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, oracle.ErrUnavailable) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
