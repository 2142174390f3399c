package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/simforge/simforge/internal/types"
)

// resultsContract is the reporting convention every candidate must follow so
// the sandbox can harvest structured results from stdout.
const resultsContract = `When the simulation finishes, print a single line starting with
"SIMFORGE_RESULTS " followed by a JSON object of the key metrics the
simulation produced (numbers or short strings only).`

const sandboxContract = `The program runs in a sandbox: no filesystem access outside the working
directory, no network access, and a hard wall-clock limit. Use only the
Python standard library.`

// buildSynthesisPrompt builds the prompt for fresh or refined synthesis
func buildSynthesisPrompt(req SynthesisRequest) string {
	var b strings.Builder

	b.WriteString("You are an expert simulation engineer. Write a complete, runnable Python program that implements the simulation described below.\n\n")
	writeSpecification(&b, req.Spec)
	fmt.Fprintf(&b, "\n%s\n\n%s\n", sandboxContract, resultsContract)

	if req.Mode == types.ModeFresh && req.Feedback != nil {
		// A fresh request can still carry feedback when the previous
		// synthesis attempt produced nothing usable
		fmt.Fprintf(&b, "\nNote on your previous attempt: %s\n", req.Feedback.Instruction)
	}

	if req.Mode == types.ModeRefined {
		b.WriteString("\nA previous version of this program exists and was judged insufficient.\n")
		b.WriteString("Previous program:\n```python\n")
		b.WriteString(req.Parent.Source)
		b.WriteString("\n```\n\n")
		fmt.Fprintf(&b, "Revision instruction (%s phase):\n%s\n\n", req.Feedback.Phase, req.Feedback.Instruction)
		b.WriteString("Revise the previous program to address the instruction. Preserve every part of the previous program that the instruction does not implicate; this is a revision, not a rewrite from scratch.\n")
	}

	b.WriteString("\nRespond with exactly one fenced code block containing the full program:\n```python\n...\n```\n")
	return b.String()
}

// buildJudgePrompt builds the prompt for one judge phase
func buildJudgePrompt(req JudgeRequest) (string, error) {
	switch req.Phase {
	case types.PhasePreReview:
		return buildReviewPrompt(req), nil
	case types.PhasePostExecution:
		if req.Execution == nil {
			return "", fmt.Errorf("post_execution judging requires execution results")
		}
		return buildAlignmentPrompt(req), nil
	case types.PhaseQuality:
		if req.Execution == nil || req.Alignment == nil {
			return "", fmt.Errorf("quality judging requires execution results and an alignment verdict")
		}
		return buildQualityPrompt(req), nil
	default:
		return "", fmt.Errorf("no judge prompt defined for phase %s", req.Phase)
	}
}

func buildReviewPrompt(req JudgeRequest) string {
	var b strings.Builder
	b.WriteString("You are reviewing a simulation program BEFORE it is executed. Judge whether it plausibly implements the specification; execution resources are only spent on approved candidates.\n\n")
	writeSpecification(&b, req.Spec)
	writeCandidate(&b, req.Candidate)
	writePriorAdvice(&b, req.PriorFeedback)

	b.WriteString(`Respond with ONLY a JSON object:
{
  "approved": true or false,
  "missing_elements": ["specification elements absent from the program"],
  "concerns": ["other problems that would make execution pointless"]
}
Approve unless an element is clearly missing or the program clearly cannot run.
`)
	return b.String()
}

func buildAlignmentPrompt(req JudgeRequest) string {
	var b strings.Builder
	b.WriteString("You are judging how faithfully an executed simulation program implements its specification.\n\n")
	writeSpecification(&b, req.Spec)
	writeCandidate(&b, req.Candidate)
	writeExecution(&b, req.Execution)
	writePriorAdvice(&b, req.PriorFeedback)

	b.WriteString(`Respond with ONLY a JSON object:
{
  "alignment_score": 0-10,
  "models_specification": true or false,
  "missing_from_candidate": ["specified behavior the program does not implement"],
  "incorrect_in_candidate": ["behavior the program implements wrongly"]
}
alignment_score 10 means the execution results fully reflect the intent.
models_specification is false only if the program simulates something other
than what was specified.
`)
	return b.String()
}

func buildQualityPrompt(req JudgeRequest) string {
	var b strings.Builder
	b.WriteString("You are making the final quality judgment on an executed simulation program.\n\n")
	writeSpecification(&b, req.Spec)
	writeCandidate(&b, req.Candidate)
	writeExecution(&b, req.Execution)

	alignmentJSON, _ := json.MarshalIndent(req.Alignment, "", "  ")
	fmt.Fprintf(&b, "Alignment verdict from the previous judging phase:\n%s\n\n", alignmentJSON)
	writePriorAdvice(&b, req.PriorFeedback)

	b.WriteString(`First decide an initial 0-10 rating on overall competence (correctness,
numerical soundness, clarity of reported results). Then demote it against the
alignment verdict: final_rating must not exceed initial_rating, must not
exceed alignment_score + 1, and must not exceed 3 if the program does not
model the specification.

Respond with ONLY a JSON object:
{
  "initial_rating": 0-10,
  "final_rating": 0-10,
  "confidence": "low" | "medium" | "high",
  "weaknesses": ["..."],
  "suggestions": ["..."]
}
`)
	return b.String()
}

// writeSpecification renders the target specification section
func writeSpecification(b *strings.Builder, spec *types.Specification) {
	fmt.Fprintf(b, "Specification intent: %s\n\nElements:\n", spec.Intent)
	for _, el := range spec.Elements {
		fmt.Fprintf(b, "- %s (%s)", el.Name, el.Type)
		if el.Critical {
			b.WriteString(" [critical]")
		}
		for k, v := range el.Params {
			fmt.Fprintf(b, " %s=%s", k, v)
		}
		b.WriteString("\n")
	}
	if spec.ExpectedOutcomes != "" {
		fmt.Fprintf(b, "\nExpected outcomes: %s\n", spec.ExpectedOutcomes)
	}
}

func writeCandidate(b *strings.Builder, c *types.Candidate) {
	fmt.Fprintf(b, "\nCandidate program (iteration %d, %s):\n```python\n%s\n```\n\n", c.Iteration, c.Mode, c.Source)
}

func writeExecution(b *strings.Builder, r *types.ExecutionResult) {
	fmt.Fprintf(b, "Execution: success=%v duration=%v\n", r.Success, r.Duration.Round(time.Millisecond))
	if len(r.Results) > 0 {
		resultsJSON, _ := json.Marshal(r.Results)
		fmt.Fprintf(b, "Reported results: %s\n", resultsJSON)
	}
	if flags := r.SanityFlags(); len(flags) > 0 {
		fmt.Fprintf(b, "Sanity flags raised by the executor: %s\n", strings.Join(flags, "; "))
	}
	fmt.Fprintf(b, "Stdout (tail):\n%s\n", tail(r.Stdout, 2000))
	if r.Stderr != "" {
		fmt.Fprintf(b, "Stderr (tail):\n%s\n", tail(r.Stderr, 1000))
	}
	b.WriteString("\n")
}

// writePriorAdvice gives the judge the previously issued instruction so it
// can check its own consistency instead of silently contradicting itself.
func writePriorAdvice(b *strings.Builder, prior *types.Feedback) {
	if prior == nil {
		return
	}
	fmt.Fprintf(b, `In the previous iteration the synthesizer was instructed (%s phase):
%q
If your judgment now contradicts that instruction, say so explicitly in your
listed items rather than asserting the opposite without acknowledgment.

`, prior.Phase, prior.Instruction)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
