package oracle

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/simforge/simforge/internal/types"
)

// Default oracle models. Synthesis needs deep reasoning; judging is cheaper
// per call but runs up to three times per iteration.
const (
	ModelDefault = "claude-sonnet-4-5-20250929"
)

// GetDefaultModel returns the oracle model, checking SIMFORGE_MODEL first
func GetDefaultModel() string {
	if model := os.Getenv("SIMFORGE_MODEL"); model != "" {
		return model
	}
	return ModelDefault
}

// Config holds oracle client configuration
type Config struct {
	APIKey string // Anthropic API key (if empty, reads ANTHROPIC_API_KEY)
	Model  string // Model to use (default: GetDefaultModel())
	Retry  RetryConfig
}

// Client is the production Gateway implementation over the Anthropic API.
// It carries only transport concerns (auth, retry, circuit breaking, rate
// and concurrency limits); all loop policy lives in the controller.
type Client struct {
	api     *anthropic.Client
	model   string
	retry   RetryConfig
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// Compile-time check that Client implements Gateway
var _ Gateway = (*Client)(nil)

// NewClient creates a production oracle gateway
func NewClient(cfg *Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	api := anthropic.NewClient(option.WithAPIKey(apiKey))

	var breaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		breaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}

	var sem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		sem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	var limiter *rate.Limiter
	if retry.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(retry.RequestsPerSecond), 1)
	}

	return &Client{
		api:     &api,
		model:   model,
		retry:   retry,
		breaker: breaker,
		sem:     sem,
		limiter: limiter,
	}, nil
}

// Synthesize produces a fresh candidate or refines the parent per feedback
func (c *Client) Synthesize(ctx context.Context, req SynthesisRequest) (*types.Candidate, error) {
	if req.Spec == nil {
		return nil, fmt.Errorf("specification is required")
	}
	if req.Mode == types.ModeRefined && (req.Parent == nil || req.Feedback == nil) {
		return nil, fmt.Errorf("refined synthesis requires parent candidate and feedback")
	}

	prompt := buildSynthesisPrompt(req)
	responseText, err := c.callMessages(ctx, "synthesize", prompt, 8192)
	if err != nil {
		return nil, err
	}

	source := extractSource(responseText)
	if source == "" {
		return nil, &MalformedResponseError{
			Operation: "synthesize",
			Reason:    "no program source in response",
			Raw:       truncate(responseText, 500),
		}
	}

	candidate := &types.Candidate{
		Iteration: req.Iteration,
		Source:    source,
		Mode:      req.Mode,
		Parent:    req.Parent,
	}
	if err := candidate.Validate(); err != nil {
		return nil, fmt.Errorf("synthesized candidate invalid: %w", err)
	}
	return candidate, nil
}

// Judge produces the structured verdict for one phase
func (c *Client) Judge(ctx context.Context, req JudgeRequest) (*types.Verdict, error) {
	if req.Spec == nil || req.Candidate == nil {
		return nil, fmt.Errorf("specification and candidate are required")
	}

	prompt, err := buildJudgePrompt(req)
	if err != nil {
		return nil, err
	}

	responseText, err := c.callMessages(ctx, "judge:"+string(req.Phase), prompt, 4096)
	if err != nil {
		return nil, err
	}

	return decodeVerdict(req.Phase, responseText)
}

// decodeVerdict parses judge output into the phase's verdict shape
func decodeVerdict(phase types.Phase, responseText string) (*types.Verdict, error) {
	malformed := func(reason string) error {
		return &MalformedResponseError{
			Phase:     phase,
			Operation: "judge",
			Reason:    reason,
			Raw:       truncate(responseText, 500),
		}
	}

	switch phase {
	case types.PhasePreReview:
		v, err := decodeResponse[types.ReviewVerdict](responseText)
		if err != nil {
			return nil, malformed(err.Error())
		}
		return &types.Verdict{Review: &v}, nil

	case types.PhasePostExecution:
		v, err := decodeResponse[types.AlignmentVerdict](responseText)
		if err != nil {
			return nil, malformed(err.Error())
		}
		if err := v.Validate(); err != nil {
			return nil, malformed(err.Error())
		}
		return &types.Verdict{Alignment: &v}, nil

	case types.PhaseQuality:
		v, err := decodeResponse[types.QualityVerdict](responseText)
		if err != nil {
			return nil, malformed(err.Error())
		}
		if v.Confidence == "" {
			v.Confidence = types.ConfidenceLow
		}
		if err := v.Validate(); err != nil {
			return nil, malformed(err.Error())
		}
		return &types.Verdict{Quality: &v}, nil

	default:
		return nil, fmt.Errorf("no judge verdict defined for phase %s", phase)
	}
}

// callMessages performs one prompt round-trip with transport retry
func (c *Client) callMessages(ctx context.Context, operation, prompt string, maxTokens int64) (string, error) {
	start := time.Now()

	var response *anthropic.Message
	err := c.retryTransport(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := c.api.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	fmt.Fprintf(os.Stderr, "oracle %s: in=%d out=%d tokens, %v\n",
		operation, response.Usage.InputTokens, response.Usage.OutputTokens, time.Since(start).Round(time.Millisecond))

	return text.String(), nil
}

var sourceFenceRegex = regexp.MustCompile("(?s)`{3}(?:python|py)?\\s*\\n(.*?)\\n`{3}")

// extractSource pulls the candidate program out of synthesis output. The
// prompt asks for a single fenced block; if the model skipped the fence but
// the response is plainly code, take it whole.
func extractSource(responseText string) string {
	if m := sourceFenceRegex.FindStringSubmatch(responseText); m != nil {
		return strings.TrimSpace(m[1])
	}
	trimmed := strings.TrimSpace(responseText)
	if strings.Contains(trimmed, "import ") || strings.Contains(trimmed, "def ") {
		return trimmed
	}
	return ""
}
