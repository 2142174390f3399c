package converge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/simforge/simforge/internal/artifacts"
	"github.com/simforge/simforge/internal/feedback"
	"github.com/simforge/simforge/internal/oracle"
	"github.com/simforge/simforge/internal/sandbox"
	"github.com/simforge/simforge/internal/types"
)

// scriptedGateway is a deterministic Gateway stand-in. Each judge phase pops
// verdicts from its own queue; synthesize counts calls and fabricates
// sources.
type scriptedGateway struct {
	synthesizeCalls int
	judgeCalls      []types.Phase

	reviews    []*types.ReviewVerdict
	alignments []*types.AlignmentVerdict
	qualities  []*types.QualityVerdict

	synthesizeErr func(call int) error
	judgeErr      func(phase types.Phase, call int) error

	lastSynthesis oracle.SynthesisRequest
	judgeRequests []oracle.JudgeRequest
}

func (g *scriptedGateway) Synthesize(ctx context.Context, req oracle.SynthesisRequest) (*types.Candidate, error) {
	g.synthesizeCalls++
	g.lastSynthesis = req
	if g.synthesizeErr != nil {
		if err := g.synthesizeErr(g.synthesizeCalls); err != nil {
			return nil, err
		}
	}
	return &types.Candidate{
		Iteration: req.Iteration,
		Source:    fmt.Sprintf("print('candidate %d')", g.synthesizeCalls),
		Mode:      req.Mode,
		Parent:    req.Parent,
	}, nil
}

func (g *scriptedGateway) Judge(ctx context.Context, req oracle.JudgeRequest) (*types.Verdict, error) {
	g.judgeCalls = append(g.judgeCalls, req.Phase)
	g.judgeRequests = append(g.judgeRequests, req)
	if g.judgeErr != nil {
		if err := g.judgeErr(req.Phase, len(g.judgeCalls)); err != nil {
			return nil, err
		}
	}

	switch req.Phase {
	case types.PhasePreReview:
		v := &types.ReviewVerdict{Approved: true}
		if len(g.reviews) > 0 {
			v, g.reviews = g.reviews[0], g.reviews[1:]
		}
		return &types.Verdict{Review: v}, nil
	case types.PhasePostExecution:
		v := &types.AlignmentVerdict{AlignmentScore: 9, ModelsSpecification: true}
		if len(g.alignments) > 0 {
			v, g.alignments = g.alignments[0], g.alignments[1:]
		}
		return &types.Verdict{Alignment: v}, nil
	case types.PhaseQuality:
		v := &types.QualityVerdict{InitialRating: 8, FinalRating: 8, Confidence: types.ConfidenceHigh}
		if len(g.qualities) > 0 {
			v, g.qualities = g.qualities[0], g.qualities[1:]
		}
		return &types.Verdict{Quality: v}, nil
	}
	return nil, fmt.Errorf("unexpected phase %s", req.Phase)
}

// fakeExecutor returns canned execution results without spawning anything
type fakeExecutor struct {
	runCalls int
	results  []*types.ExecutionResult
	err      error
}

func (e *fakeExecutor) Run(ctx context.Context, candidate *types.Candidate, limits sandbox.Limits) (*types.ExecutionResult, error) {
	e.runCalls++
	if e.err != nil {
		return nil, e.err
	}
	if len(e.results) > 0 {
		var r *types.ExecutionResult
		r, e.results = e.results[0], e.results[1:]
		return r, nil
	}
	return &types.ExecutionResult{Success: true, Stdout: "ok", Duration: time.Millisecond}, nil
}

// fakeStore records puts in memory
type fakeStore struct {
	puts []*artifacts.Artifact
}

func (s *fakeStore) Put(ctx context.Context, a *artifacts.Artifact) error {
	s.puts = append(s.puts, a)
	return nil
}
func (s *fakeStore) Get(ctx context.Context, fingerprint string) (*artifacts.Artifact, error) {
	return nil, nil
}
func (s *fakeStore) List(ctx context.Context) ([]*artifacts.Artifact, error) { return nil, nil }
func (s *fakeStore) Close() error                                            { return nil }

func testSpec() *types.Specification {
	return &types.Specification{
		Intent: "predator-prey population dynamics",
		Elements: []types.Element{
			{Name: "prey", Type: "agent_population", Critical: true},
			{Name: "predator", Type: "agent_population"},
		},
	}
}

func newTestController(t *testing.T, g *scriptedGateway, e *fakeExecutor, s artifacts.Store) *Controller {
	t.Helper()
	c, err := NewController(g, e, s, DefaultConfig())
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	return c
}

func TestNewController_RejectsOutOfRangeThresholds(t *testing.T) {
	for _, cfg := range []Config{
		{MaxIterations: 5, AlignmentThreshold: 11, QualityThreshold: 6, StoreThreshold: 6},
		{MaxIterations: 5, AlignmentThreshold: 7, QualityThreshold: -1, StoreThreshold: 6},
		{MaxIterations: 5, AlignmentThreshold: 7, QualityThreshold: 6, StoreThreshold: 42},
	} {
		if _, err := NewController(&scriptedGateway{}, &fakeExecutor{}, nil, cfg); err == nil {
			t.Errorf("expected an error for config %+v", cfg)
		}
	}
}

func TestValidate_ZeroThresholdsAreHonored(t *testing.T) {
	// Zero means "accept anything", not "use the default"
	cfg := DefaultConfig()
	cfg.AlignmentThreshold = 0
	cfg.QualityThreshold = 0
	cfg.StoreThreshold = 0

	gateway := &scriptedGateway{
		alignments: []*types.AlignmentVerdict{{AlignmentScore: 1, ModelsSpecification: true}},
		qualities:  []*types.QualityVerdict{{InitialRating: 1, FinalRating: 1, Confidence: types.ConfidenceLow}},
	}
	store := &fakeStore{}
	c, err := NewController(gateway, &fakeExecutor{}, store, cfg)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	result, err := c.Validate(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !result.Converged || result.IterationsUsed != 1 {
		t.Fatalf("scores of 1 must clear a zero threshold, got converged=%v used=%d",
			result.Converged, result.IterationsUsed)
	}
	if len(store.puts) != 1 {
		t.Errorf("a rating of 1 must clear a zero store threshold, got %d puts", len(store.puts))
	}
}

func TestValidate_ConvergesFirstIteration(t *testing.T) {
	gateway := &scriptedGateway{
		reviews:    []*types.ReviewVerdict{{Approved: true}},
		alignments: []*types.AlignmentVerdict{{AlignmentScore: 9, ModelsSpecification: true}},
		qualities:  []*types.QualityVerdict{{InitialRating: 8, FinalRating: 8, Confidence: types.ConfidenceHigh}},
	}
	executor := &fakeExecutor{}
	store := &fakeStore{}

	result, err := newTestController(t, gateway, executor, store).Validate(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if !result.Converged {
		t.Error("expected converged=true")
	}
	if result.IterationsUsed != 1 {
		t.Errorf("expected 1 iteration, got %d", result.IterationsUsed)
	}
	if result.FinalArtifact == nil || result.FinalArtifact.Iteration != 1 {
		t.Errorf("expected iteration-1 artifact, got %+v", result.FinalArtifact)
	}
	if result.FinalArtifact.Mode != types.ModeFresh {
		t.Errorf("iteration 1 must be fresh, got %s", result.FinalArtifact.Mode)
	}
	if len(store.puts) != 1 {
		t.Fatalf("expected converged artifact persisted, got %d puts", len(store.puts))
	}
	if store.puts[0].FinalRating != 8 {
		t.Errorf("persisted rating = %d, want 8", store.puts[0].FinalRating)
	}
}

func TestValidate_ExhaustionReturnsBestIteration(t *testing.T) {
	// Never clears the bar; final ratings 4,5,3,6,2 → iteration 4 is best.
	// Alignment stays below threshold so each pass fails on alignment, and
	// initial ratings are kept high enough that demotion never reorders
	// the scripted finals.
	gateway := &scriptedGateway{
		alignments: []*types.AlignmentVerdict{
			{AlignmentScore: 5, ModelsSpecification: true},
			{AlignmentScore: 5, ModelsSpecification: true},
			{AlignmentScore: 5, ModelsSpecification: true},
			{AlignmentScore: 5, ModelsSpecification: true},
			{AlignmentScore: 5, ModelsSpecification: true},
		},
		qualities: []*types.QualityVerdict{
			{InitialRating: 4, FinalRating: 4, Confidence: types.ConfidenceMedium},
			{InitialRating: 5, FinalRating: 5, Confidence: types.ConfidenceMedium},
			{InitialRating: 3, FinalRating: 3, Confidence: types.ConfidenceMedium},
			{InitialRating: 6, FinalRating: 6, Confidence: types.ConfidenceMedium},
			{InitialRating: 2, FinalRating: 2, Confidence: types.ConfidenceMedium},
		},
	}
	executor := &fakeExecutor{}

	result, err := newTestController(t, gateway, executor, nil).Validate(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if result.Converged {
		t.Error("expected converged=false")
	}
	if result.Reason != ReasonExhausted {
		t.Errorf("reason = %s, want %s", result.Reason, ReasonExhausted)
	}
	if result.IterationsUsed != 5 {
		t.Errorf("expected 5 iterations, got %d", result.IterationsUsed)
	}
	if result.FinalArtifact == nil || result.FinalArtifact.Iteration != 4 {
		t.Fatalf("expected iteration-4 fallback (rating 6), got %+v", result.FinalArtifact)
	}
}

func TestValidate_BestIterationTieKeepsEarlier(t *testing.T) {
	gateway := &scriptedGateway{
		alignments: []*types.AlignmentVerdict{
			{AlignmentScore: 5, ModelsSpecification: true},
			{AlignmentScore: 5, ModelsSpecification: true},
			{AlignmentScore: 5, ModelsSpecification: true},
			{AlignmentScore: 5, ModelsSpecification: true},
			{AlignmentScore: 5, ModelsSpecification: true},
		},
		qualities: []*types.QualityVerdict{
			{InitialRating: 5, FinalRating: 5, Confidence: types.ConfidenceMedium},
			{InitialRating: 5, FinalRating: 5, Confidence: types.ConfidenceMedium},
			{InitialRating: 4, FinalRating: 4, Confidence: types.ConfidenceMedium},
			{InitialRating: 4, FinalRating: 4, Confidence: types.ConfidenceMedium},
			{InitialRating: 4, FinalRating: 4, Confidence: types.ConfidenceMedium},
		},
	}

	result, err := newTestController(t, gateway, &fakeExecutor{}, nil).Validate(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if result.FinalArtifact.Iteration != 1 {
		t.Errorf("tie must keep the earlier iteration, got %d", result.FinalArtifact.Iteration)
	}
}

func TestValidate_ReviewRejectionSkipsExecution(t *testing.T) {
	gateway := &scriptedGateway{
		reviews: []*types.ReviewVerdict{
			{Approved: false, MissingElements: []string{"predator"}},
			{Approved: true},
		},
		alignments: []*types.AlignmentVerdict{{AlignmentScore: 9, ModelsSpecification: true}},
		qualities:  []*types.QualityVerdict{{InitialRating: 8, FinalRating: 8, Confidence: types.ConfidenceHigh}},
	}
	executor := &fakeExecutor{}

	result, err := newTestController(t, gateway, executor, nil).Validate(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if !result.Converged {
		t.Fatal("expected convergence on iteration 2")
	}
	if executor.runCalls != 1 {
		t.Errorf("rejected candidate must not execute: got %d runs, want 1", executor.runCalls)
	}

	rec := result.State.Records[0]
	if rec.Execution != nil {
		t.Error("pre-review rejection must leave Execution nil")
	}
	if rec.Alignment != nil || rec.Quality != nil {
		t.Error("pre-review rejection must leave Alignment and Quality nil")
	}
	if rec.Feedback == nil || rec.Feedback.Phase != types.PhasePreReview {
		t.Errorf("expected pre_review feedback, got %+v", rec.Feedback)
	}

	// The follow-up synthesis must carry both the parent and the feedback
	if gateway.lastSynthesis.Mode != types.ModeRefined {
		t.Errorf("iteration 2 must be refined, got %s", gateway.lastSynthesis.Mode)
	}
	if gateway.lastSynthesis.Parent == nil || gateway.lastSynthesis.Feedback == nil {
		t.Error("refined synthesis must carry parent candidate and feedback together")
	}
}

func TestValidate_ExecutionFailureDrivesFeedback(t *testing.T) {
	gateway := &scriptedGateway{
		alignments: []*types.AlignmentVerdict{{AlignmentScore: 9, ModelsSpecification: true}},
		qualities:  []*types.QualityVerdict{{InitialRating: 8, FinalRating: 8, Confidence: types.ConfidenceHigh}},
	}
	executor := &fakeExecutor{
		results: []*types.ExecutionResult{
			{Success: false, ErrorClass: types.ErrorTimeout, Diagnostics: "killed after 30s", Duration: 30 * time.Second},
			{Success: true, Duration: time.Second},
		},
	}

	result, err := newTestController(t, gateway, executor, nil).Validate(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if !result.Converged || result.IterationsUsed != 2 {
		t.Fatalf("expected convergence on iteration 2, got converged=%v used=%d", result.Converged, result.IterationsUsed)
	}

	rec := result.State.Records[0]
	if rec.Feedback == nil || rec.Feedback.Phase != types.PhaseExecution {
		t.Fatalf("expected execution feedback, got %+v", rec.Feedback)
	}
	if rec.Feedback.Details.ErrorClass != types.ErrorTimeout {
		t.Errorf("feedback error class = %s, want timeout", rec.Feedback.Details.ErrorClass)
	}
	if rec.Alignment != nil || rec.Quality != nil {
		t.Error("failed execution must leave Alignment and Quality nil")
	}
}

func TestValidate_DemotionBlocksNoisyJudge(t *testing.T) {
	// The judge claims final 9 despite alignment 4; demotion caps it at 5
	// and the alignment gate fails anyway. The loop must not accept.
	gateway := &scriptedGateway{
		alignments: func() []*types.AlignmentVerdict {
			var v []*types.AlignmentVerdict
			for i := 0; i < 5; i++ {
				v = append(v, &types.AlignmentVerdict{AlignmentScore: 4, ModelsSpecification: true})
			}
			return v
		}(),
		qualities: func() []*types.QualityVerdict {
			var v []*types.QualityVerdict
			for i := 0; i < 5; i++ {
				v = append(v, &types.QualityVerdict{InitialRating: 9, FinalRating: 9, Confidence: types.ConfidenceHigh})
			}
			return v
		}(),
	}

	result, err := newTestController(t, gateway, &fakeExecutor{}, nil).Validate(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if result.Converged {
		t.Fatal("noisy judge must not force convergence past demotion")
	}
	for _, rec := range result.State.Records {
		if rec.Quality == nil {
			continue
		}
		limit := rec.Alignment.AlignmentScore + 1
		if rec.Quality.FinalRating > limit {
			t.Errorf("iteration %d: final %d exceeds alignment+1 (%d)", rec.Iteration, rec.Quality.FinalRating, limit)
		}
	}
}

func TestValidate_MalformedJudgeResponseRecovers(t *testing.T) {
	gateway := &scriptedGateway{
		judgeErr: func(phase types.Phase, call int) error {
			if call == 1 {
				return &oracle.MalformedResponseError{Phase: phase, Operation: "judge", Reason: "not JSON"}
			}
			return nil
		},
	}

	result, err := newTestController(t, gateway, &fakeExecutor{}, nil).Validate(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("malformed response must be recoverable, got: %v", err)
	}

	if !result.Converged || result.IterationsUsed != 2 {
		t.Fatalf("expected recovery and convergence on iteration 2, got converged=%v used=%d",
			result.Converged, result.IterationsUsed)
	}
	rec := result.State.Records[0]
	if rec.Feedback == nil || rec.Feedback.IssueType != types.IssueMalformedResponse {
		t.Errorf("expected malformed-response feedback, got %+v", rec.Feedback)
	}
	if rec.Feedback.Phase != types.PhaseExecution {
		t.Errorf("malformed responses are execution-equivalent, got phase %s", rec.Feedback.Phase)
	}
}

func TestValidate_MalformedSynthesisConsumesAttempt(t *testing.T) {
	gateway := &scriptedGateway{
		synthesizeErr: func(call int) error {
			if call == 1 {
				return &oracle.MalformedResponseError{Operation: "synthesize", Reason: "no program source"}
			}
			return nil
		},
	}

	result, err := newTestController(t, gateway, &fakeExecutor{}, nil).Validate(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if !result.Converged {
		t.Fatal("expected convergence after the retry")
	}
	// The failed synthesis produced no record, but the retried candidate
	// saw the malformed-response instruction
	if result.IterationsUsed != 1 {
		t.Errorf("expected 1 recorded iteration, got %d", result.IterationsUsed)
	}
	if gateway.synthesizeCalls != 2 {
		t.Errorf("expected 2 synthesis calls, got %d", gateway.synthesizeCalls)
	}
	if gateway.lastSynthesis.Feedback == nil {
		t.Error("retried synthesis must carry the malformed-response feedback")
	}
}

func TestValidate_OracleUnavailableIsFatal(t *testing.T) {
	gateway := &scriptedGateway{
		synthesizeErr: func(call int) error {
			return fmt.Errorf("synthesize: %w: connection refused", oracle.ErrUnavailable)
		},
	}

	_, err := newTestController(t, gateway, &fakeExecutor{}, nil).Validate(context.Background(), testSpec())
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestValidate_CancellationReturnsBestSoFar(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	gateway := &scriptedGateway{
		alignments: []*types.AlignmentVerdict{{AlignmentScore: 5, ModelsSpecification: true}},
		qualities:  []*types.QualityVerdict{{InitialRating: 5, FinalRating: 5, Confidence: types.ConfidenceMedium}},
	}
	// Cancel during the second iteration's synthesis
	gateway.synthesizeErr = func(call int) error {
		if call == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	store := &fakeStore{}

	result, err := newTestController(t, gateway, &fakeExecutor{}, store).Validate(ctx, testSpec())
	if err != nil {
		t.Fatalf("cancellation must not be an error, got: %v", err)
	}

	if result.Converged {
		t.Error("canceled request must not report convergence")
	}
	if result.Reason != ReasonCanceled {
		t.Errorf("reason = %s, want %s", result.Reason, ReasonCanceled)
	}
	if result.FinalArtifact == nil || result.FinalArtifact.Iteration != 1 {
		t.Errorf("expected the best-so-far candidate, got %+v", result.FinalArtifact)
	}
	if len(store.puts) != 0 {
		t.Error("no partial state may be persisted on cancellation")
	}
}

func TestValidate_CancellationWrappedInTransportError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	gateway := &scriptedGateway{
		alignments: []*types.AlignmentVerdict{{AlignmentScore: 5, ModelsSpecification: true}},
		qualities:  []*types.QualityVerdict{{InitialRating: 5, FinalRating: 5, Confidence: types.ConfidenceMedium}},
	}
	// A Ctrl+C mid-call can reach the controller wrapped in the transport's
	// unavailability error; the live context still marks it a cancellation
	gateway.synthesizeErr = func(call int) error {
		if call == 2 {
			cancel()
			return fmt.Errorf("synthesize: %w: %w", oracle.ErrUnavailable, context.Canceled)
		}
		return nil
	}
	store := &fakeStore{}

	result, err := newTestController(t, gateway, &fakeExecutor{}, store).Validate(ctx, testSpec())
	if err != nil {
		t.Fatalf("cancellation must not be an error, got: %v", err)
	}

	if result.Reason != ReasonCanceled {
		t.Errorf("reason = %s, want %s", result.Reason, ReasonCanceled)
	}
	if result.FinalArtifact == nil || result.FinalArtifact.Iteration != 1 {
		t.Errorf("expected the best-so-far candidate, got %+v", result.FinalArtifact)
	}
}

func TestValidate_BoundedIterations(t *testing.T) {
	gateway := &scriptedGateway{
		reviews: func() []*types.ReviewVerdict {
			var v []*types.ReviewVerdict
			for i := 0; i < 20; i++ {
				v = append(v, &types.ReviewVerdict{Approved: false, Concerns: []string{"never good enough"}})
			}
			return v
		}(),
	}
	executor := &fakeExecutor{}

	result, err := newTestController(t, gateway, executor, nil).Validate(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if result.IterationsUsed > types.DefaultMaxIterations {
		t.Errorf("iterations_used %d exceeds max %d", result.IterationsUsed, types.DefaultMaxIterations)
	}
	if executor.runCalls != 0 {
		t.Errorf("no execution may happen when every review rejects, got %d runs", executor.runCalls)
	}
	// Nothing was ever rated, so the fallback is the most recent candidate
	if result.FinalArtifact == nil {
		t.Fatal("caller must always receive an artifact on exhaustion")
	}
}

func TestValidate_QualityFeedbackWhenAlignmentPasses(t *testing.T) {
	gateway := &scriptedGateway{
		alignments: func() []*types.AlignmentVerdict {
			var v []*types.AlignmentVerdict
			for i := 0; i < 5; i++ {
				v = append(v, &types.AlignmentVerdict{AlignmentScore: 8, ModelsSpecification: true})
			}
			return v
		}(),
		qualities: func() []*types.QualityVerdict {
			var v []*types.QualityVerdict
			for i := 0; i < 5; i++ {
				v = append(v, &types.QualityVerdict{
					InitialRating: 5, FinalRating: 5,
					Confidence: types.ConfidenceMedium,
					Weaknesses: []string{"no random seed control"},
				})
			}
			return v
		}(),
	}

	result, err := newTestController(t, gateway, &fakeExecutor{}, nil).Validate(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	rec := result.State.Records[0]
	if rec.Feedback == nil || rec.Feedback.Phase != types.PhaseQuality {
		t.Fatalf("alignment passed, so feedback must be quality-phase, got %+v", rec.Feedback)
	}
	if !strings.Contains(rec.Feedback.Instruction, "no random seed control") {
		t.Errorf("instruction should carry the weakness, got %q", rec.Feedback.Instruction)
	}
}

func TestValidate_JudgeReceivesAlignmentAndPriorFeedback(t *testing.T) {
	gateway := &scriptedGateway{
		alignments: []*types.AlignmentVerdict{
			{AlignmentScore: 5, ModelsSpecification: true},
			{AlignmentScore: 9, ModelsSpecification: true},
		},
		qualities: []*types.QualityVerdict{
			{InitialRating: 5, FinalRating: 5, Confidence: types.ConfidenceMedium},
			{InitialRating: 8, FinalRating: 8, Confidence: types.ConfidenceHigh},
		},
	}

	_, err := newTestController(t, gateway, &fakeExecutor{}, nil).Validate(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	// Quality calls must carry the alignment verdict
	for _, req := range gateway.judgeRequests {
		if req.Phase == types.PhaseQuality && req.Alignment == nil {
			t.Error("quality judge call missing the alignment verdict")
		}
	}

	// Iteration 2's judge calls must carry iteration 1's feedback
	var sawPrior bool
	for _, req := range gateway.judgeRequests {
		if req.Candidate.Iteration == 2 && req.PriorFeedback != nil {
			sawPrior = true
		}
	}
	if !sawPrior {
		t.Error("second-iteration judge calls must be parameterized with the prior feedback")
	}
}

func TestValidate_StoreGating(t *testing.T) {
	// Converges with final rating exactly at the acceptance bar but below a
	// raised store threshold: no Put.
	cfg := DefaultConfig()
	cfg.StoreThreshold = 8

	gateway := &scriptedGateway{
		alignments: []*types.AlignmentVerdict{{AlignmentScore: 9, ModelsSpecification: true}},
		qualities:  []*types.QualityVerdict{{InitialRating: 6, FinalRating: 6, Confidence: types.ConfidenceHigh}},
	}
	store := &fakeStore{}
	c, err := NewController(gateway, &fakeExecutor{}, store, cfg)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	result, err := c.Validate(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !result.Converged {
		t.Fatal("expected convergence")
	}
	if len(store.puts) != 0 {
		t.Errorf("rating below store threshold must not be persisted, got %d puts", len(store.puts))
	}
}

func TestValidate_FeedbackConsistencyAcrossIterations(t *testing.T) {
	// Adversarial judge: iteration 1 suggests adopting a technique, then
	// iteration 2 condemns that same technique. The instruction fed into
	// iteration 3 must acknowledge the reversal instead of silently
	// contradicting the earlier advice.
	gateway := &scriptedGateway{
		alignments: func() []*types.AlignmentVerdict {
			var v []*types.AlignmentVerdict
			for i := 0; i < 5; i++ {
				v = append(v, &types.AlignmentVerdict{AlignmentScore: 8, ModelsSpecification: true})
			}
			return v
		}(),
		qualities: []*types.QualityVerdict{
			{InitialRating: 5, FinalRating: 5, Confidence: types.ConfidenceMedium,
				Suggestions: []string{"Euler integration for the population update"}},
			{InitialRating: 5, FinalRating: 5, Confidence: types.ConfidenceMedium,
				Weaknesses: []string{"Euler integration is numerically unstable for this system"}},
			{InitialRating: 4, FinalRating: 4, Confidence: types.ConfidenceMedium},
			{InitialRating: 4, FinalRating: 4, Confidence: types.ConfidenceMedium},
			{InitialRating: 4, FinalRating: 4, Confidence: types.ConfidenceMedium},
		},
	}

	result, err := newTestController(t, gateway, &fakeExecutor{}, nil).Validate(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	second := result.State.Records[1]
	if second.Feedback == nil {
		t.Fatal("iteration 2 should have produced feedback")
	}
	if !strings.Contains(second.Feedback.Instruction, feedback.SupersededMarker) {
		t.Errorf("reversal must carry the acknowledgment marker, got %q", second.Feedback.Instruction)
	}
}
