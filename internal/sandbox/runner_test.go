package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/simforge/simforge/internal/types"
)

// requirePython skips tests that spawn a real interpreter when none is
// installed
func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func runCandidate(t *testing.T, source string, limits Limits) *types.ExecutionResult {
	t.Helper()
	r := NewRunner("", t.TempDir())
	result, err := r.Run(context.Background(), &types.Candidate{
		Iteration: 1,
		Source:    source,
		Mode:      types.ModeFresh,
	}, limits)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return result
}

func TestRunSuccess(t *testing.T) {
	requirePython(t)

	source := `import json
print("starting")
print("SIMFORGE_RESULTS " + json.dumps({"final_population": 42, "survival_prob": 0.8}))
`
	result := runCandidate(t, source, DefaultLimits())

	if !result.Success {
		t.Fatalf("expected success, got %s: %s", result.ErrorClass, result.Diagnostics)
	}
	if result.Results["final_population"] != 42.0 {
		t.Errorf("results = %v", result.Results)
	}
	if flags := result.SanityFlags(); flags != nil {
		t.Errorf("clean run flagged: %v", flags)
	}
	if !strings.Contains(result.Stdout, "starting") {
		t.Error("stdout not captured")
	}
}

func TestRunTimeoutIsolation(t *testing.T) {
	requirePython(t)

	limits := DefaultLimits()
	limits.Timeout = 1 * time.Second

	start := time.Now()
	result := runCandidate(t, "while True:\n    pass\n", limits)
	elapsed := time.Since(start)

	if result.Success {
		t.Fatal("infinite loop must not succeed")
	}
	if result.ErrorClass != types.ErrorTimeout {
		t.Errorf("error class = %s, want timeout", result.ErrorClass)
	}
	// The loop must be killed promptly, not waited out
	if elapsed > 5*time.Second {
		t.Errorf("runner blocked for %v on a 1s cap", elapsed)
	}
}

func TestRunRuntimeException(t *testing.T) {
	requirePython(t)

	result := runCandidate(t, "x = 1 / 0\n", DefaultLimits())

	if result.Success {
		t.Fatal("crash must not succeed")
	}
	if result.ErrorClass != types.ErrorRuntimeException {
		t.Errorf("error class = %s, want runtime_exception", result.ErrorClass)
	}
	if !strings.Contains(result.Diagnostics, "ZeroDivisionError") {
		t.Errorf("diagnostics should carry the exception, got %q", result.Diagnostics)
	}
}

func TestRunFilesystemViolation(t *testing.T) {
	requirePython(t)

	result := runCandidate(t, "open('/etc/passwd').read()\n", DefaultLimits())

	if result.Success {
		t.Fatal("filesystem escape must not succeed")
	}
	if result.ErrorClass != types.ErrorResourceViolation {
		t.Errorf("error class = %s, want resource_violation (diagnostics: %s)",
			result.ErrorClass, result.Diagnostics)
	}
}

func TestRunOSLevelFilesystemViolation(t *testing.T) {
	requirePython(t)

	// os.remove bypasses builtins.open; the guard must still deny it and
	// the host file must survive the attempt
	victim := filepath.Join(t.TempDir(), "victim.txt")
	if err := os.WriteFile(victim, []byte("keep"), 0o600); err != nil {
		t.Fatal(err)
	}

	source := fmt.Sprintf("import os\nos.remove(%q)\n", victim)
	result := runCandidate(t, source, DefaultLimits())

	if result.Success {
		t.Fatal("os.remove outside the sandbox must not succeed")
	}
	if result.ErrorClass != types.ErrorResourceViolation {
		t.Errorf("error class = %s, want resource_violation (diagnostics: %s)",
			result.ErrorClass, result.Diagnostics)
	}
	if _, err := os.Stat(victim); err != nil {
		t.Errorf("host file was affected by the candidate: %v", err)
	}
}

func TestRunOSRenameViolation(t *testing.T) {
	requirePython(t)

	outside := filepath.Join(t.TempDir(), "moved.txt")
	source := fmt.Sprintf("import os\nwith open('x.txt', 'w') as f:\n    f.write('x')\nos.rename('x.txt', %q)\n", outside)
	result := runCandidate(t, source, DefaultLimits())

	if result.Success || result.ErrorClass != types.ErrorResourceViolation {
		t.Errorf("rename out of the sandbox must be a resource_violation, got success=%v class=%s",
			result.Success, result.ErrorClass)
	}
	if _, err := os.Stat(outside); err == nil {
		t.Error("file escaped the sandbox via os.rename")
	}
}

func TestRunSubprocessViolation(t *testing.T) {
	requirePython(t)

	// A spawned process would run unguarded, so spawning itself is denied
	source := `import subprocess
subprocess.run(["cat", "/etc/hostname"], capture_output=True)
`
	result := runCandidate(t, source, DefaultLimits())

	if result.Success {
		t.Fatal("subprocess must not succeed")
	}
	if result.ErrorClass != types.ErrorResourceViolation {
		t.Errorf("error class = %s, want resource_violation (diagnostics: %s)",
			result.ErrorClass, result.Diagnostics)
	}
}

func TestRunOSSystemViolation(t *testing.T) {
	requirePython(t)

	result := runCandidate(t, "import os\nos.system('echo escaped')\n", DefaultLimits())

	if result.Success || result.ErrorClass != types.ErrorResourceViolation {
		t.Errorf("os.system must be a resource_violation, got success=%v class=%s",
			result.Success, result.ErrorClass)
	}
}

func TestRunNetworkViolation(t *testing.T) {
	requirePython(t)

	source := `import socket
socket.socket(socket.AF_INET, socket.SOCK_STREAM)
`
	result := runCandidate(t, source, DefaultLimits())

	if result.Success {
		t.Fatal("network access must not succeed")
	}
	if result.ErrorClass != types.ErrorResourceViolation {
		t.Errorf("error class = %s, want resource_violation (diagnostics: %s)",
			result.ErrorClass, result.Diagnostics)
	}
}

func TestRunScratchWritesAllowed(t *testing.T) {
	requirePython(t)

	// Writes inside the scratch directory are not violations even with the
	// filesystem guard on
	source := `import json
with open("scratch.txt", "w") as f:
    f.write("ok")
print("SIMFORGE_RESULTS " + json.dumps({"wrote": 1}))
`
	result := runCandidate(t, source, DefaultLimits())

	if !result.Success {
		t.Fatalf("scratch write must be allowed, got %s: %s", result.ErrorClass, result.Diagnostics)
	}
}

func TestRunSanityFlaggedButSuccessful(t *testing.T) {
	requirePython(t)

	source := `import json
print("SIMFORGE_RESULTS " + json.dumps({"infection_prob": 1.7}))
`
	result := runCandidate(t, source, DefaultLimits())

	if !result.Success {
		t.Fatalf("flagged run must stay successful, got %s", result.ErrorClass)
	}
	flags := result.SanityFlags()
	if len(flags) != 1 || !strings.Contains(flags[0], "outside [0,1]") {
		t.Errorf("SanityFlags = %v", flags)
	}
}

func TestRunMissingResultsLine(t *testing.T) {
	requirePython(t)

	result := runCandidate(t, "print('no structured output')\n", DefaultLimits())

	if !result.Success {
		t.Fatalf("exit 0 without results must stay successful, got %s", result.ErrorClass)
	}
	flags := result.SanityFlags()
	if len(flags) != 1 || !strings.Contains(flags[0], "no structured results line") {
		t.Errorf("SanityFlags = %v", flags)
	}
}

func TestRunCancellation(t *testing.T) {
	requirePython(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	r := NewRunner("", t.TempDir())
	result, err := r.Run(ctx, &types.Candidate{
		Iteration: 1,
		Source:    "while True:\n    pass\n",
		Mode:      types.ModeFresh,
	}, DefaultLimits())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Caller cancellation before the cap reads as a failed run, not a hang
	if result.Success {
		t.Error("canceled run must not succeed")
	}
}

func TestRunRejectsEmptyCandidate(t *testing.T) {
	r := NewRunner("", t.TempDir())
	if _, err := r.Run(context.Background(), nil, DefaultLimits()); err == nil {
		t.Error("nil candidate must be rejected")
	}
	if _, err := r.Run(context.Background(), &types.Candidate{Iteration: 1, Mode: types.ModeFresh}, DefaultLimits()); err == nil {
		t.Error("empty source must be rejected")
	}
}
