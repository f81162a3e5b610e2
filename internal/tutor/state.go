// ABOUTME: Shared state carried through the tutoring graph
// ABOUTME: Defines input types, the parsed problem, and the tri-state verification result

package tutor

// InputType records how the problem was submitted.
type InputType string

const (
	InputText  InputType = "text"
	InputImage InputType = "image"
	InputAudio InputType = "audio"
)

// Valid reports whether t is a known input type.
func (t InputType) Valid() bool {
	switch t {
	case InputText, InputImage, InputAudio:
		return true
	}
	return false
}

// ParsedProblem is the parser agent's structured output.
type ParsedProblem struct {
	ProblemText        string `json:"problem_text"`
	Topic              string `json:"topic"`
	NeedsClarification bool   `json:"needs_clarification"`
}

// AgentState accumulates every agent's output for one run.
type AgentState struct {
	RawInput      string        `json:"raw_input"`
	InputType     InputType     `json:"input_type"`
	ParsedProblem ParsedProblem `json:"parsed_problem"`
	RetrievedDocs []string      `json:"retrieved_docs"`
	FinalAnswer   string        `json:"final_answer"`
	// IsCorrect is nil until the verifier has run.
	IsCorrect   *bool    `json:"is_correct"`
	Critique    string   `json:"critique"`
	Explanation string   `json:"explanation"`
	Messages    []string `json:"messages"`
}

// MessageLog returns the agents' progress messages, so graph step events
// carry the lines each agent added.
func (s AgentState) MessageLog() []string {
	return s.Messages
}

// NewState returns the initial state for a submission.
func NewState(rawInput string, inputType InputType) AgentState {
	if inputType == "" {
		inputType = InputText
	}
	return AgentState{RawInput: rawInput, InputType: inputType}
}

// Verified reports whether the verifier accepted the answer.
func (s AgentState) Verified() bool {
	return s.IsCorrect != nil && *s.IsCorrect
}

// Rejected reports whether the verifier ran and rejected the answer.
func (s AgentState) Rejected() bool {
	return s.IsCorrect != nil && !*s.IsCorrect
}
