// Package feedback builds the structured instructions that drive refinement.
// Every negative outcome in the validation loop (a review rejection, an
// execution failure, an alignment mismatch, a quality shortfall) becomes a
// typed Feedback value with a deterministic imperative instruction, never a
// free-hand note from the judge. Centralizing instruction authorship here is
// what makes the consistency check possible: the builder sees the prior
// instruction and refuses to silently contradict it.
package feedback

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/simforge/simforge/internal/types"
)

// SupersededMarker prefixes every instruction that reverses earlier advice.
// Its presence is the observable guarantee that the builder never silently
// contradicts itself; tests assert on it.
const SupersededMarker = "[supersedes earlier advice]"

// BuildReview converts a pre-execution rejection into feedback
func BuildReview(verdict *types.ReviewVerdict, prior *types.Feedback) *types.Feedback {
	var parts []string
	if len(verdict.MissingElements) > 0 {
		parts = append(parts, fmt.Sprintf("Add the missing elements: %s.", strings.Join(verdict.MissingElements, ", ")))
	}
	for _, c := range verdict.Concerns {
		parts = append(parts, fmt.Sprintf("Resolve this concern before execution: %s.", c))
	}
	if len(parts) == 0 {
		parts = append(parts, "The reviewer rejected the program without naming specifics; simplify it and implement every specified element explicitly.")
	}

	return finish(&types.Feedback{
		Phase:     types.PhasePreReview,
		IssueType: types.IssueReviewRejection,
		Details: types.FeedbackDetails{
			MissingElements: verdict.MissingElements,
			Concerns:        verdict.Concerns,
		},
	}, parts, prior)
}

// BuildExecution converts a sandbox failure into feedback
func BuildExecution(result *types.ExecutionResult, prior *types.Feedback) *types.Feedback {
	var parts []string
	switch result.ErrorClass {
	case types.ErrorTimeout:
		parts = append(parts, fmt.Sprintf("The program exceeded the %v wall-clock limit and was killed. Reduce the work per run: fewer iterations, smaller populations, or coarser time steps.", result.Duration.Round(time.Second)))
	case types.ErrorResourceViolation:
		parts = append(parts, "The program attempted filesystem or network access, which the sandbox denies. Remove all file and network operations; report results only via the SIMFORGE_RESULTS stdout line.")
	default:
		parts = append(parts, "The program crashed with an uncaught exception. Fix the error below and re-check every code path you touch.")
	}
	if result.Diagnostics != "" {
		parts = append(parts, fmt.Sprintf("Diagnostics: %s", result.Diagnostics))
	}

	return finish(&types.Feedback{
		Phase:     types.PhaseExecution,
		IssueType: types.IssueExecutionError,
		Details: types.FeedbackDetails{
			ErrorClass:  result.ErrorClass,
			Diagnostics: result.Diagnostics,
		},
	}, parts, prior)
}

// BuildMalformed converts an unparseable oracle response into
// execution-equivalent feedback asking for a well-formed one
func BuildMalformed(reason string, prior *types.Feedback) *types.Feedback {
	parts := []string{
		fmt.Sprintf("The previous response could not be parsed as the required structure (%s). Respond again following the output format exactly, with no surrounding prose.", reason),
	}
	return finish(&types.Feedback{
		Phase:     types.PhaseExecution,
		IssueType: types.IssueMalformedResponse,
		Details: types.FeedbackDetails{
			Diagnostics: reason,
		},
	}, parts, prior)
}

// BuildAlignment converts a low alignment verdict into feedback
func BuildAlignment(verdict *types.AlignmentVerdict, prior *types.Feedback) *types.Feedback {
	var parts []string
	if !verdict.ModelsSpecification {
		parts = append(parts, "The program simulates something other than what was specified. Discard the current model and implement the specified system directly.")
	}
	if len(verdict.MissingFromCandidate) > 0 {
		parts = append(parts, fmt.Sprintf("Implement the specified behavior that is missing: %s.", strings.Join(verdict.MissingFromCandidate, ", ")))
	}
	if len(verdict.IncorrectInCandidate) > 0 {
		parts = append(parts, fmt.Sprintf("Correct the behavior that is implemented wrongly: %s.", strings.Join(verdict.IncorrectInCandidate, ", ")))
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("Alignment scored %d/10 without named gaps; tighten the correspondence between the specified elements and the reported results.", verdict.AlignmentScore))
	}

	return finish(&types.Feedback{
		Phase:     types.PhasePostExecution,
		IssueType: types.IssueAlignmentMismatch,
		Details: types.FeedbackDetails{
			AlignmentScore:       verdict.AlignmentScore,
			MissingFromCandidate: verdict.MissingFromCandidate,
			IncorrectInCandidate: verdict.IncorrectInCandidate,
		},
	}, parts, prior)
}

// BuildQuality converts a quality shortfall into feedback
func BuildQuality(verdict *types.QualityVerdict, prior *types.Feedback) *types.Feedback {
	var parts []string
	for _, w := range verdict.Weaknesses {
		parts = append(parts, fmt.Sprintf("Address this weakness: %s.", w))
	}
	for _, s := range verdict.Suggestions {
		parts = append(parts, fmt.Sprintf("Apply this improvement: %s.", s))
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("Quality rated %d/10 without named weaknesses; improve numerical soundness and make the reported results easier to verify.", verdict.FinalRating))
	}

	return finish(&types.Feedback{
		Phase:     types.PhaseQuality,
		IssueType: types.IssueQualityShortfall,
		Details: types.FeedbackDetails{
			FinalRating: verdict.FinalRating,
			Weaknesses:  verdict.Weaknesses,
			Suggestions: verdict.Suggestions,
		},
	}, parts, prior)
}

// finish assembles the instruction text and applies the consistency check
// against the prior feedback
func finish(fb *types.Feedback, parts []string, prior *types.Feedback) *types.Feedback {
	instruction := strings.Join(parts, " ")

	if prior != nil {
		if conflict := findContradiction(prior, fb); conflict != "" {
			instruction = fmt.Sprintf("%s You were previously advised: %q. That advice is withdrawn because it conflicts with the current judgment (%s). %s",
				SupersededMarker, prior.Instruction, conflict, instruction)
		}
	}

	fb.Instruction = instruction
	return fb
}

// Advice phrasing the builder itself emits. Contradiction detection only has
// to recognize the builder's own vocabulary, which is what keeps it
// deterministic.
var advicePattern = regexp.MustCompile(`(?i)(?:apply this improvement|implement the specified behavior that is missing|add the missing elements):\s*([^.]+)\.`)

// findContradiction reports whether the new feedback condemns something the
// prior instruction told the synthesizer to adopt. It returns a short
// description of the conflict, or "" when the two are compatible.
//
// This closes the oscillation failure mode: a judge approving technique X in
// one pass and rejecting X in the next, with the synthesizer flip-flopping
// forever because neither instruction acknowledged the other.
func findContradiction(prior, next *types.Feedback) string {
	recommended := extractAdvisedItems(prior.Instruction)
	if len(recommended) == 0 {
		return ""
	}

	condemned := make([]string, 0,
		len(next.Details.IncorrectInCandidate)+len(next.Details.Weaknesses)+len(next.Details.Concerns))
	condemned = append(condemned, next.Details.IncorrectInCandidate...)
	condemned = append(condemned, next.Details.Weaknesses...)
	condemned = append(condemned, next.Details.Concerns...)

	for _, rec := range recommended {
		for _, con := range condemned {
			if mentions(con, rec) {
				return fmt.Sprintf("previously advised %q, now condemned as %q", rec, con)
			}
		}
	}
	return ""
}

// extractAdvisedItems pulls the concrete things a prior instruction told the
// synthesizer to adopt
func extractAdvisedItems(instruction string) []string {
	var items []string
	for _, m := range advicePattern.FindAllStringSubmatch(instruction, -1) {
		for _, item := range strings.Split(m[1], ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}

// mentions checks whether a condemnation refers to an advised item. Token
// overlap rather than substring match, so "use Euler integration" collides
// with "Euler integration is too inaccurate here".
func mentions(condemnation, advised string) bool {
	conTokens := tokenSet(condemnation)
	advTokens := significantTokens(advised)
	if len(advTokens) == 0 {
		return false
	}
	matched := 0
	for _, t := range advTokens {
		if conTokens[t] {
			matched++
		}
	}
	return matched*2 >= len(advTokens) // at least half the significant tokens
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "for": true, "to": true,
	"in": true, "on": true, "with": true, "use": true, "using": true,
	"and": true, "or": true, "is": true, "are": true, "this": true,
	"that": true, "it": true, "its": true, "be": true, "by": true,
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokenize(s) {
		set[t] = true
	}
	return set
}

func significantTokens(s string) []string {
	var out []string
	for _, t := range tokenize(s) {
		if !stopwords[t] && len(t) > 2 {
			out = append(out, t)
		}
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}
