package types

import "fmt"

// IssueType categorizes what went wrong in an iteration. One issue type per
// phase keeps the loop's transition table explicit.
type IssueType string

const (
	IssueReviewRejection   IssueType = "review_rejection"
	IssueExecutionError    IssueType = "execution_error"
	IssueMalformedResponse IssueType = "malformed_oracle_response"
	IssueAlignmentMismatch IssueType = "alignment_mismatch"
	IssueQualityShortfall  IssueType = "quality_shortfall"
)

// IsValid checks if the issue type value is valid
func (t IssueType) IsValid() bool {
	switch t {
	case IssueReviewRejection, IssueExecutionError, IssueMalformedResponse,
		IssueAlignmentMismatch, IssueQualityShortfall:
		return true
	}
	return false
}

// Feedback is one structured instruction fed into the next synthesis call.
// The Instruction text is built deterministically from the detail payload by
// the feedback builder; it is never free-hand-authored by the judge, which
// keeps the imperative voice consistent and lets the builder detect
// contradictions against prior advice.
type Feedback struct {
	Phase     Phase     `json:"phase"`
	IssueType IssueType `json:"issue_type"`

	// Details mirrors the negative fields of the verdict (or execution
	// failure) that produced this feedback
	Details FeedbackDetails `json:"details"`

	// Instruction is the single imperative paragraph handed to the
	// synthesizer
	Instruction string `json:"instruction"`
}

// FeedbackDetails is the phase-specific payload behind an instruction
type FeedbackDetails struct {
	// Pre-review
	MissingElements []string `json:"missing_elements,omitempty"`
	Concerns        []string `json:"concerns,omitempty"`

	// Execution
	ErrorClass  ErrorClass `json:"error_class,omitempty"`
	Diagnostics string     `json:"diagnostics,omitempty"`

	// Post-execution
	AlignmentScore       int      `json:"alignment_score,omitempty"`
	MissingFromCandidate []string `json:"missing_from_candidate,omitempty"`
	IncorrectInCandidate []string `json:"incorrect_in_candidate,omitempty"`

	// Quality
	FinalRating int      `json:"final_rating,omitempty"`
	Weaknesses  []string `json:"weaknesses,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Validate checks if the feedback has valid field values
func (f *Feedback) Validate() error {
	if !f.Phase.IsValid() {
		return fmt.Errorf("invalid phase: %s", f.Phase)
	}
	if !f.IssueType.IsValid() {
		return fmt.Errorf("invalid issue type: %s", f.IssueType)
	}
	if f.Instruction == "" {
		return fmt.Errorf("instruction is required")
	}
	return nil
}
