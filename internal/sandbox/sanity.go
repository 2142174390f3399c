package sandbox

import (
	"fmt"
	"math"
	"strings"
)

// checkSanity inspects candidate-reported results for violations of their own
// self-declared invariants. This is a cheap local check, independent of the
// oracle: a value whose key labels it a probability must sit in [0,1], a
// variance cannot be negative, and no reported metric may be NaN or infinite.
// Violations do not fail the run; they become flags the judges must see.
func checkSanity(results map[string]any) []string {
	var flags []string
	walkNumbers("", results, func(key string, v float64) {
		switch {
		case math.IsNaN(v):
			flags = append(flags, fmt.Sprintf("%s is NaN", key))
		case math.IsInf(v, 0):
			flags = append(flags, fmt.Sprintf("%s is infinite", key))
		case probabilityLike(key) && (v < 0 || v > 1):
			flags = append(flags, fmt.Sprintf("%s looks like a probability but is %g (outside [0,1])", key, v))
		case nonNegativeLike(key) && v < 0:
			flags = append(flags, fmt.Sprintf("%s cannot be negative but is %g", key, v))
		}
	})
	return flags
}

// walkNumbers visits every numeric leaf in a decoded JSON structure
func walkNumbers(prefix string, v any, visit func(key string, v float64)) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			walkNumbers(key, child, visit)
		}
	case []any:
		for i, child := range val {
			walkNumbers(fmt.Sprintf("%s[%d]", prefix, i), child, visit)
		}
	case float64:
		visit(prefix, val)
	}
}

func probabilityLike(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "probability") || strings.Contains(k, "prob_") ||
		strings.HasSuffix(k, "_prob") || strings.Contains(k, "fraction")
}

func nonNegativeLike(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "variance") || strings.Contains(k, "stddev") ||
		strings.Contains(k, "std_dev") || strings.Contains(k, "count")
}
