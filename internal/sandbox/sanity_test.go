package sandbox

import (
	"math"
	"strings"
	"testing"
)

func TestCheckSanityCleanResults(t *testing.T) {
	flags := checkSanity(map[string]any{
		"final_population": 142.0,
		"infection_prob":   0.35,
		"variance":         2.1,
		"label":            "stable",
	})
	if len(flags) != 0 {
		t.Errorf("clean results flagged: %v", flags)
	}
}

func TestCheckSanityViolations(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]any
		want    string
	}{
		{"nan", map[string]any{"mean_energy": math.NaN()}, "NaN"},
		{"infinite", map[string]any{"total": math.Inf(1)}, "infinite"},
		{"probability above one", map[string]any{"infection_probability": 1.7}, "outside [0,1]"},
		{"probability below zero", map[string]any{"escape_prob": -0.2}, "outside [0,1]"},
		{"fraction out of range", map[string]any{"infected_fraction": 1.01}, "outside [0,1]"},
		{"negative variance", map[string]any{"variance": -3.0}, "cannot be negative"},
		{"negative count", map[string]any{"agent_count": -1.0}, "cannot be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := checkSanity(tt.results)
			if len(flags) != 1 {
				t.Fatalf("expected one flag, got %v", flags)
			}
			if !strings.Contains(flags[0], tt.want) {
				t.Errorf("flag %q missing %q", flags[0], tt.want)
			}
		})
	}
}

func TestCheckSanityNestedStructures(t *testing.T) {
	flags := checkSanity(map[string]any{
		"summary": map[string]any{
			"survival_prob": 2.5,
		},
		"per_step": []any{
			map[string]any{"count": -1.0},
		},
	})
	if len(flags) != 2 {
		t.Fatalf("expected two flags, got %v", flags)
	}
	joined := strings.Join(flags, "; ")
	if !strings.Contains(joined, "summary.survival_prob") {
		t.Errorf("nested key path missing: %v", flags)
	}
	if !strings.Contains(joined, "per_step[0].count") {
		t.Errorf("array index path missing: %v", flags)
	}
}

func TestLastResultsLine(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   string
	}{
		{"single", "step 1\nSIMFORGE_RESULTS {\"a\": 1}\n", `{"a": 1}`},
		{"last wins", "SIMFORGE_RESULTS {\"a\": 1}\nSIMFORGE_RESULTS {\"a\": 2}\n", `{"a": 2}`},
		{"leading whitespace", "  SIMFORGE_RESULTS {\"a\": 1}\n", `{"a": 1}`},
		{"absent", "just output\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastResultsLine(tt.stdout); got != tt.want {
				t.Errorf("lastResultsLine = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBoundedBuffer(t *testing.T) {
	var b boundedBuffer
	chunk := strings.Repeat("x", 64*1024)
	for i := 0; i < 20; i++ {
		n, err := b.Write([]byte(chunk))
		if err != nil || n != len(chunk) {
			t.Fatalf("write %d: n=%d err=%v", i, n, err)
		}
	}
	out := b.String()
	if len(out) > maxCaptureBytes+100 {
		t.Errorf("capture exceeded bound: %d bytes", len(out))
	}
	if !strings.Contains(out, "truncated") {
		t.Error("truncation marker missing")
	}
}
