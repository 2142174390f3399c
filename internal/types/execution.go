package types

import "time"

// ErrorClass categorizes why a sandboxed run failed
type ErrorClass string

const (
	// ErrorTimeout means the run exceeded the wall-clock cap and was killed
	ErrorTimeout ErrorClass = "timeout"

	// ErrorRuntimeException means the candidate raised an uncaught exception
	ErrorRuntimeException ErrorClass = "runtime_exception"

	// ErrorResourceViolation means the candidate attempted denied filesystem
	// or network access
	ErrorResourceViolation ErrorClass = "resource_violation"
)

// IsValid checks if the error class value is valid
func (e ErrorClass) IsValid() bool {
	switch e {
	case ErrorTimeout, ErrorRuntimeException, ErrorResourceViolation:
		return true
	}
	return false
}

// SanityFlagsKey is the structured-results key under which the executor
// records self-declared invariant violations (NaN metrics, probabilities
// outside [0,1], negative variances). Flagged runs remain successful; the
// alignment and quality judges see the flags in the results map.
const SanityFlagsKey = "sanity_flags"

// ExecutionResult is the outcome of running one candidate in the sandbox.
// Immutable once produced.
type ExecutionResult struct {
	// Success is false only for timeout, uncaught exception, or a sandbox
	// violation. Sanity-flagged runs stay successful.
	Success bool `json:"success"`

	// Stdout and Stderr are the fully captured (bounded) streams
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`

	// Results holds the numeric/string values the candidate reported
	Results map[string]any `json:"results,omitempty"`

	// Duration is the wall-clock run time
	Duration time.Duration `json:"duration"`

	// ErrorClass and Diagnostics are set only when Success is false
	ErrorClass  ErrorClass `json:"error_class,omitempty"`
	Diagnostics string     `json:"diagnostics,omitempty"`
}

// SanityFlags returns the invariant-violation flags recorded by the executor,
// or nil if the run was clean.
func (r *ExecutionResult) SanityFlags() []string {
	if r.Results == nil {
		return nil
	}
	raw, ok := r.Results[SanityFlagsKey]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		flags := make([]string, 0, len(v))
		for _, f := range v {
			if s, ok := f.(string); ok {
				flags = append(flags, s)
			}
		}
		return flags
	}
	return nil
}
