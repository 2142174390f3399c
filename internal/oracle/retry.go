package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// RetryConfig holds transport retry configuration for oracle API calls.
// This smooths transient transport faults (rate limits, 5xx, resets) before
// the gateway gives up and reports ErrUnavailable. It is not loop policy:
// feedback-driven iteration retry belongs to the convergence controller.
type RetryConfig struct {
	MaxRetries        int           // Maximum number of retries (default: 3)
	InitialBackoff    time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff        time.Duration // Maximum backoff duration (default: 30s)
	BackoffMultiplier float64       // Backoff multiplier (default: 2.0)
	Timeout           time.Duration // Per-request timeout (default: 120s)

	// Circuit breaker settings
	CircuitBreakerEnabled bool          // Enable circuit breaker (default: true)
	FailureThreshold      int           // Failures before opening circuit (default: 5)
	SuccessThreshold      int           // Successes in half-open before closing (default: 2)
	OpenTimeout           time.Duration // How long to keep circuit open (default: 30s)

	// MaxConcurrentCalls limits in-flight oracle calls across parallel
	// validation requests (default: 3, 0 = unlimited)
	MaxConcurrentCalls int

	// RequestsPerSecond rate-limits outbound calls (0 = unlimited)
	RequestsPerSecond float64
}

// DefaultRetryConfig returns the default transport retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:            3,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            30 * time.Second,
		BackoffMultiplier:     2.0,
		Timeout:               120 * time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
		MaxConcurrentCalls:    3,
	}
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests pass through
	CircuitOpen                         // Too many failures, fail fast
	CircuitHalfOpen                     // Probing for recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker prevents hammering an oracle backend that is already down.
// After FailureThreshold consecutive transport failures the circuit opens and
// calls fail fast with ErrCircuitOpen until OpenTimeout elapses.
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
}

// NewCircuitBreaker creates a circuit breaker with the given thresholds
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
	}
}

// Allow checks if a request should pass through the circuit breaker
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.setState(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		return nil
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.setState(CircuitClosed)
			cb.failureCount = 0
		}
	}
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()
	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure while probing reopens immediately
		cb.setState(CircuitOpen)
	}
}

// State returns the current state (for testing/monitoring)
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// setState transitions the circuit (must be called with lock held)
func (cb *CircuitBreaker) setState(next CircuitState) {
	if cb.state == next {
		return
	}
	slog.Info("oracle circuit breaker state transition",
		"from", cb.state.String(), "to", next.String(), "failures", cb.failureCount)
	cb.state = next
	cb.successCount = 0
}

// retryTransport executes fn with retry, exponential backoff and circuit
// breaking. Only transient transport faults are retried; everything else
// returns immediately.
func (c *Client) retryTransport(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquiring concurrency slot for %s: %w", operation, err)
		}
		defer c.sem.Release(1)
	}

	var lastErr error
	backoff := c.retry.InitialBackoff

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if c.breaker != nil {
			if err := c.breaker.Allow(); err != nil {
				return fmt.Errorf("%s: %w: %w", operation, ErrUnavailable, err)
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s: %w", operation, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.retry.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if c.breaker != nil {
				c.breaker.RecordSuccess()
			}
			if attempt > 0 {
				slog.Info("oracle call succeeded after retries", "operation", operation, "retries", attempt)
			}
			return nil
		}
		lastErr = err

		if !isRetriable(err) {
			// A caller cancellation surfacing through the transport call is
			// not an oracle outage; it must stay distinguishable upstream
			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", operation, err)
			}
			return fmt.Errorf("%s: %w: %w", operation, ErrUnavailable, err)
		}
		if c.breaker != nil {
			c.breaker.RecordFailure()
		}
		if attempt == c.retry.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", operation, ctx.Err())
		}

		slog.Warn("oracle call failed, retrying",
			"operation", operation, "attempt", attempt+1, "backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * c.retry.BackoffMultiplier)
			if backoff > c.retry.MaxBackoff {
				backoff = c.retry.MaxBackoff
			}
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", operation, ctx.Err())
		}
	}

	if ctx.Err() != nil && errors.Is(lastErr, context.Canceled) {
		return fmt.Errorf("%s: %w", operation, lastErr)
	}
	return fmt.Errorf("%s failed after %d attempts: %w: %w",
		operation, c.retry.MaxRetries+1, ErrUnavailable, lastErr)
}

// isRetriable determines if a transport error is transient
func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := err.Error()

	// Rate limits are retriable
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return true
	}

	// Server errors are retriable
	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return true
	}

	// Network faults are retriable
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "network") {
		return true
	}

	// Client errors (auth, bad request) will not succeed on retry
	return false
}
