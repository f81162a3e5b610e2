// ABOUTME: Classifies a finished run and builds the student-facing result
// ABOUTME: Shared by the HTTP API, the CLI, and the chat bridge

package tutor

import (
	"fmt"
	"strings"
)

// Outcome is how a run ended, from the student's point of view.
type Outcome string

const (
	OutcomeNeedsClarification Outcome = "needs_clarification"
	OutcomeUnverified         Outcome = "unverified"
	OutcomeVerified           Outcome = "verified"
	OutcomeFailed             Outcome = "failed"
)

// Student-facing notices.
const (
	ClarificationNotice = "The problem seems ambiguous. Please edit the text and try again."
	UnverifiedNotice    = "The verifier could not confirm this solution. Check it carefully before relying on it."
)

// OutcomeOf classifies the final state. runErr is the error returned by the
// graph, if any.
func OutcomeOf(s AgentState, runErr error) Outcome {
	switch {
	case s.ParsedProblem.NeedsClarification:
		return OutcomeNeedsClarification
	case runErr != nil:
		return OutcomeFailed
	case s.FinalAnswer != "" && s.Rejected():
		return OutcomeUnverified
	case s.Verified():
		return OutcomeVerified
	default:
		return OutcomeFailed
	}
}

// Result is the payload every surface renders.
type Result struct {
	Outcome     Outcome `json:"outcome"`
	ProblemText string  `json:"problem_text,omitempty"`
	Topic       string  `json:"topic,omitempty"`
	Answer      string  `json:"answer,omitempty"`
	Explanation string  `json:"explanation,omitempty"`
	Critique    string  `json:"critique,omitempty"`
	// Notice is a warning or request shown above the content.
	Notice string `json:"notice,omitempty"`
	// Display is the Markdown body to show the student.
	Display string `json:"display"`
	Error   string `json:"error,omitempty"`
}

// Summarize builds the Result for a finished run.
func Summarize(s AgentState, runErr error) Result {
	r := Result{
		Outcome:     OutcomeOf(s, runErr),
		ProblemText: s.ParsedProblem.ProblemText,
		Topic:       s.ParsedProblem.Topic,
		Answer:      s.FinalAnswer,
		Explanation: s.Explanation,
		Critique:    s.Critique,
	}

	switch r.Outcome {
	case OutcomeNeedsClarification:
		r.Notice = ClarificationNotice
		r.Display = ClarificationNotice
	case OutcomeUnverified:
		r.Notice = UnverifiedNotice
		r.Display = s.FinalAnswer
	case OutcomeVerified:
		r.Display = s.Explanation
		if strings.TrimSpace(r.Display) == "" {
			r.Display = s.FinalAnswer
		}
	case OutcomeFailed:
		if runErr != nil {
			r.Error = runErr.Error()
		} else {
			r.Error = "the pipeline finished without an answer"
		}
		r.Display = fmt.Sprintf("Something went wrong while solving: %s", r.Error)
	}
	return r
}
