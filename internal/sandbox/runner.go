// Package sandbox runs candidate simulation programs in isolation. Each run
// gets a throwaway scratch directory, a scrubbed environment, a hard
// wall-clock cap enforced by the runner (not cooperatively by the candidate),
// and guards that turn denied filesystem/network access into a deterministic
// classification instead of host-side effects.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simforge/simforge/internal/types"
)

// ResultsLinePrefix marks the stdout line on which a candidate reports its
// structured results
const ResultsLinePrefix = "SIMFORGE_RESULTS "

// DefaultTimeout is the wall-clock cap when the caller does not set one
const DefaultTimeout = 30 * time.Second

// maxCaptureBytes bounds each captured stream so a runaway candidate cannot
// exhaust host memory
const maxCaptureBytes = 1 << 20

// Limits are the caller-supplied resource constraints for one run
type Limits struct {
	Timeout            time.Duration
	DisallowFilesystem bool
	DisallowNetwork    bool
}

// DefaultLimits returns the standard constraints: 30s cap, no filesystem,
// no network
func DefaultLimits() Limits {
	return Limits{
		Timeout:            DefaultTimeout,
		DisallowFilesystem: true,
		DisallowNetwork:    true,
	}
}

// Runner executes candidates via a Python interpreter in isolated scratch
// directories
type Runner struct {
	// Interpreter is the Python binary to invoke (default: python3)
	Interpreter string

	// ScratchRoot is where per-run directories are created (default: os temp)
	ScratchRoot string
}

// NewRunner creates a runner with defaults applied
func NewRunner(interpreter, scratchRoot string) *Runner {
	if interpreter == "" {
		interpreter = "python3"
	}
	return &Runner{Interpreter: interpreter, ScratchRoot: scratchRoot}
}

// Run executes one candidate under the given limits. It never returns a
// candidate failure as an error: timeouts, exceptions and violations all come
// back as a structured ExecutionResult. The error return is reserved for
// host-side problems (scratch dir creation, interpreter missing).
func (r *Runner) Run(ctx context.Context, candidate *types.Candidate, limits Limits) (*types.ExecutionResult, error) {
	if candidate == nil || candidate.Source == "" {
		return nil, fmt.Errorf("candidate with source is required")
	}
	if limits.Timeout <= 0 {
		limits.Timeout = DefaultTimeout
	}

	scratch, err := r.makeScratchDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(scratch)

	if err := os.WriteFile(filepath.Join(scratch, candidateFile), []byte(candidate.Source), 0o600); err != nil {
		return nil, fmt.Errorf("writing candidate: %w", err)
	}
	harness := fmt.Sprintf(harnessSource, pyBool(limits.DisallowFilesystem), pyBool(limits.DisallowNetwork))
	if err := os.WriteFile(filepath.Join(scratch, harnessFile), []byte(harness), 0o600); err != nil {
		return nil, fmt.Errorf("writing harness: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	// -I runs the interpreter isolated: no user site-packages, no env-var
	// injection into the candidate
	cmd := exec.CommandContext(runCtx, r.Interpreter, "-I", harnessFile)
	cmd.Dir = scratch
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + scratch,
		"TMPDIR=" + scratch,
	}
	// Grace period between SIGKILL on the context edge and giving up on Wait
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr boundedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &types.ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.Success = false
		result.ErrorClass = types.ErrorTimeout
		result.Diagnostics = fmt.Sprintf("killed after exceeding the %v wall-clock limit", limits.Timeout)

	case runErr == nil:
		result.Success = true
		r.harvestResults(result)

	default:
		exitCode := -1
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			// Interpreter failed to start at all; that is a host problem
			return nil, fmt.Errorf("running candidate: %w", runErr)
		}

		result.Success = false
		if exitCode == exitViolation {
			result.ErrorClass = types.ErrorResourceViolation
		} else {
			result.ErrorClass = types.ErrorRuntimeException
		}
		result.Diagnostics = diagnosticsFromStderr(result.Stderr)
	}

	return result, nil
}

// harvestResults extracts the structured results line and folds in sanity
// flags. A violated self-declared invariant does not fail the run; the flags
// ride along in the results map so the judges see them.
func (r *Runner) harvestResults(result *types.ExecutionResult) {
	line := lastResultsLine(result.Stdout)
	if line == "" {
		result.Results = map[string]any{
			types.SanityFlagsKey: []string{"no structured results line reported"},
		}
		return
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		result.Results = map[string]any{
			types.SanityFlagsKey: []string{fmt.Sprintf("results line is not valid JSON: %v", err)},
		}
		return
	}

	if flags := checkSanity(parsed); len(flags) > 0 {
		parsed[types.SanityFlagsKey] = flags
	}
	result.Results = parsed
}

// lastResultsLine returns the JSON payload of the last results line, or ""
func lastResultsLine(stdout string) string {
	var payload string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, ResultsLinePrefix) {
			payload = strings.TrimPrefix(line, ResultsLinePrefix)
		}
	}
	return payload
}

// diagnosticsFromStderr keeps the tail of stderr, which for Python holds the
// traceback and exception message
func diagnosticsFromStderr(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return "candidate exited non-zero with no stderr output"
	}
	const maxDiag = 2000
	if len(stderr) > maxDiag {
		return "..." + stderr[len(stderr)-maxDiag:]
	}
	return stderr
}

func (r *Runner) makeScratchDir() (string, error) {
	root := r.ScratchRoot
	if root == "" {
		root = os.TempDir()
	}
	scratch := filepath.Join(root, "simforge-run-"+uuid.New().String())
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		return "", fmt.Errorf("creating scratch dir: %w", err)
	}
	return scratch, nil
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// boundedBuffer captures a stream up to maxCaptureBytes, then appends a
// truncation marker and discards the rest
type boundedBuffer struct {
	mu        sync.Mutex
	buf       strings.Builder
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated {
		return len(p), nil
	}
	remaining := maxCaptureBytes - b.buf.Len()
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.buf.WriteString("\n[... output truncated: limit reached ...]")
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
