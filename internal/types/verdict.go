package types

import "fmt"

// Phase identifies which stage of the validation loop a verdict or feedback
// belongs to
type Phase string

const (
	// PhasePreReview is the static critique before any execution resources
	// are spent
	PhasePreReview Phase = "pre_review"

	// PhaseExecution covers sandbox runs (and execution-equivalent failures
	// such as malformed oracle responses)
	PhaseExecution Phase = "execution"

	// PhasePostExecution is the alignment judgment over execution results
	PhasePostExecution Phase = "post_execution"

	// PhaseQuality is the final quality reflection
	PhaseQuality Phase = "quality"
)

// IsValid checks if the phase value is valid
func (p Phase) IsValid() bool {
	switch p {
	case PhasePreReview, PhaseExecution, PhasePostExecution, PhaseQuality:
		return true
	}
	return false
}

// Confidence is the judge's self-reported certainty in a quality verdict
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// IsValid checks if the confidence value is valid
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// ReviewVerdict is the judge's pre-execution opinion of a candidate
type ReviewVerdict struct {
	Approved        bool     `json:"approved"`
	MissingElements []string `json:"missing_elements,omitempty"`
	Concerns        []string `json:"concerns,omitempty"`
}

// AlignmentVerdict is the judge's post-execution opinion of how faithfully
// the candidate implements the specification
type AlignmentVerdict struct {
	// AlignmentScore is 0-10, where 10 means the execution results fully
	// reflect the specification's intent
	AlignmentScore int `json:"alignment_score"`

	// ModelsSpecification is false when the candidate simulates something
	// other than what was asked for
	ModelsSpecification bool `json:"models_specification"`

	MissingFromCandidate []string `json:"missing_from_candidate,omitempty"`
	IncorrectInCandidate []string `json:"incorrect_in_candidate,omitempty"`
}

// Validate checks if the alignment verdict has valid field values
func (v *AlignmentVerdict) Validate() error {
	if v.AlignmentScore < 0 || v.AlignmentScore > 10 {
		return fmt.Errorf("alignment_score must be between 0 and 10 (got %d)", v.AlignmentScore)
	}
	return nil
}

// QualityVerdict is the judge's final reflection on a candidate that has
// already executed and been alignment-scored
type QualityVerdict struct {
	// InitialRating is the judge's raw 0-10 rating before the demotion
	// rule is applied
	InitialRating int `json:"initial_rating"`

	// FinalRating is the demoted 0-10 rating. The controller re-applies
	// the demotion rule so the invariant holds even when the judge is
	// noisy: final <= min(initial, alignment+1), final <= initial-2 when
	// a critical element is missing, final <= 3 when the candidate does
	// not model the specification at all.
	FinalRating int `json:"final_rating"`

	Confidence  Confidence `json:"confidence"`
	Weaknesses  []string   `json:"weaknesses,omitempty"`
	Suggestions []string   `json:"suggestions,omitempty"`
}

// Validate checks if the quality verdict has valid field values
func (v *QualityVerdict) Validate() error {
	if v.InitialRating < 0 || v.InitialRating > 10 {
		return fmt.Errorf("initial_rating must be between 0 and 10 (got %d)", v.InitialRating)
	}
	if v.FinalRating < 0 || v.FinalRating > 10 {
		return fmt.Errorf("final_rating must be between 0 and 10 (got %d)", v.FinalRating)
	}
	if !v.Confidence.IsValid() {
		return fmt.Errorf("invalid confidence: %s", v.Confidence)
	}
	return nil
}

// Demote clamps the final rating per the monotonic demotion rule. The rule
// is enforced here, independent of whatever the judge returned:
//   - final <= min(initial, alignment_score+1)
//   - a missing critical element forces final <= initial-2 (floor 0)
//   - models_specification == false caps final at 3
func (v *QualityVerdict) Demote(alignment *AlignmentVerdict, spec *Specification) {
	final := v.FinalRating
	if final > v.InitialRating {
		final = v.InitialRating
	}
	if alignment == nil {
		v.FinalRating = final
		return
	}

	if limit := alignment.AlignmentScore + 1; final > limit {
		final = limit
	}

	if spec != nil && missingCritical(alignment.MissingFromCandidate, spec.CriticalElements()) {
		if limit := v.InitialRating - 2; final > limit {
			final = limit
		}
	}

	if !alignment.ModelsSpecification && final > 3 {
		final = 3
	}

	if final < 0 {
		final = 0
	}
	v.FinalRating = final
}

func missingCritical(missing, critical []string) bool {
	for _, m := range missing {
		for _, c := range critical {
			if m == c {
				return true
			}
		}
	}
	return false
}

// Verdict is the structured response from one judge call. Exactly one of
// the three shapes is populated, matching the phase of the request.
type Verdict struct {
	Review    *ReviewVerdict    `json:"review,omitempty"`
	Alignment *AlignmentVerdict `json:"alignment,omitempty"`
	Quality   *QualityVerdict   `json:"quality,omitempty"`
}
