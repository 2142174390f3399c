package oracle

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Model output rarely arrives as clean JSON. Pre-compiled patterns for the
// cleanup strategies below.
var (
	codeFenceRegex     = regexp.MustCompile("(?s)`{3}(?:json)?\\s*\\n?([\\s\\S]*?)\\n?`{3}")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRegex   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_$][a-zA-Z0-9_$]*)\s*:`)
	lineCommentRegex   = regexp.MustCompile(`(?m)//.*$`)
	blockCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	jsonObjectRegex    = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

const maxResponseBytes = 4 * 1024 * 1024

// decodeResponse parses model output into a typed value, falling back through
// progressively more aggressive strategies:
//  1. direct parse
//  2. strip markdown code fences
//  3. fix common JSON damage (trailing commas, unquoted keys, comments)
//  4. extract the outermost JSON object from mixed prose
func decodeResponse[T any](text string) (T, error) {
	var zero T

	if len(text) > maxResponseBytes {
		return zero, fmt.Errorf("response exceeds size limit (%d bytes)", len(text))
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return zero, fmt.Errorf("empty response")
	}

	if v, err := tryDecode[T](trimmed); err == nil {
		return v, nil
	} else {
		slog.Debug("direct JSON parse failed, trying cleanup strategies",
			"error", err.Error(), "preview", truncate(trimmed, 100))
	}

	unfenced := stripCodeFences(trimmed)
	if unfenced != trimmed {
		if v, err := tryDecode[T](unfenced); err == nil {
			return v, nil
		}
	}

	repaired := repairJSON(unfenced)
	if v, err := tryDecode[T](repaired); err == nil {
		return v, nil
	}

	if extracted := jsonObjectRegex.FindString(repaired); extracted != "" {
		if v, err := tryDecode[T](extracted); err == nil {
			return v, nil
		}
	}

	return zero, fmt.Errorf("all JSON parsing strategies failed")
}

func tryDecode[T any](text string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(text), &v)
	return v, err
}

// stripCodeFences removes markdown fences wrapping (or embedded in) the text
func stripCodeFences(text string) string {
	cleaned := codeFenceRegex.ReplaceAllString(text, "$1")
	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") {
		cleaned = strings.Trim(cleaned, "`")
	}
	return strings.TrimSpace(cleaned)
}

// repairJSON fixes the damage models most often inflict on JSON: trailing
// commas, unquoted object keys, and // or /* */ comments. Single quotes are
// left alone; converting them would break valid JSON containing apostrophes.
func repairJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = trailingCommaRegex.ReplaceAllString(cleaned, "$1")
	cleaned = unquotedKeyRegex.ReplaceAllString(cleaned, `$1"$2":`)
	cleaned = lineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = blockCommentRegex.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
