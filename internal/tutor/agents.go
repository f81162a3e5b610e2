// ABOUTME: The five pipeline agents: parser, retriever, solver, verifier, explainer
// ABOUTME: Each agent is one model or knowledge call returning a graph update

package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/mentor-gateway/internal/graph"
	"github.com/2389/mentor-gateway/internal/knowledge"
	"github.com/2389/mentor-gateway/internal/llm"
	"github.com/2389/mentor-gateway/internal/metrics"
)

// Node names in the tutoring graph.
const (
	NodeParser    = "parser"
	NodeRetriever = "retriever"
	NodeSolver    = "solver"
	NodeVerifier  = "verifier"
	NodeExplainer = "explainer"
)

// ErrEmptyProblem is reported by the parser when the model returns no problem text.
var ErrEmptyProblem = errors.New("parsed problem text is empty")

// Retriever finds knowledge relevant to a problem.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]knowledge.Match, error)
}

// Config tunes the agents.
type Config struct {
	// Model overrides the provider's default model. Empty uses the default.
	Model string
	// TopK is the number of knowledge documents retrieved per problem.
	TopK   int
	Logger *slog.Logger
}

// Agents holds the dependencies shared by every node.
type Agents struct {
	llm       llm.Provider
	retriever Retriever
	model     string
	topK      int
	logger    *slog.Logger
}

// NewAgents creates the agent set.
func NewAgents(provider llm.Provider, retriever Retriever, cfg Config) *Agents {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agents{
		llm:       provider,
		retriever: retriever,
		model:     cfg.Model,
		topK:      cfg.TopK,
		logger:    logger.With("component", "tutor"),
	}
}

var parsedProblemSchema = &llm.ResponseFormat{
	Name: "parsed_problem",
	Schema: llm.ObjectSchema(map[string]any{
		"problem_text":        map[string]any{"type": "string", "description": "Clean math problem text"},
		"topic":               map[string]any{"type": "string", "description": "Math topic e.g., Calculus, Algebra"},
		"needs_clarification": map[string]any{"type": "boolean", "description": "True if input is ambiguous or nonsensical"},
	}),
}

var verificationSchema = &llm.ResponseFormat{
	Name: "verification",
	Schema: llm.ObjectSchema(map[string]any{
		"is_correct": map[string]any{"type": "boolean", "description": "Is the solution mathematically sound?"},
		"critique":   map[string]any{"type": "string", "description": "Critique of the solution logic"},
	}),
}

// Parse turns raw input into a ParsedProblem. It never fails the run: any
// error marks the problem as needing clarification.
func (a *Agents) Parse(ctx context.Context, s AgentState) (graph.Update[AgentState], error) {
	parsed, err := a.parse(ctx, s.RawInput)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("parser failed", "error", err)
		return func(st *AgentState) {
			st.ParsedProblem = ParsedProblem{NeedsClarification: true}
			st.Messages = append(st.Messages, fmt.Sprintf("Parser: Failed to parse. Error: %v", err))
		}, nil
	}

	return func(st *AgentState) {
		st.ParsedProblem = parsed
		st.Messages = append(st.Messages, "Parser: Successfully parsed input.")
	}, nil
}

func (a *Agents) parse(ctx context.Context, raw string) (ParsedProblem, error) {
	var parsed ParsedProblem
	if strings.TrimSpace(raw) == "" {
		return parsed, ErrEmptyProblem
	}

	system, user, err := renderPair("parser", struct{ RawInput string }{raw})
	if err != nil {
		return parsed, err
	}

	err = llm.ChatJSON(ctx, a.llm, &llm.ChatRequest{
		Model:        a.model,
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		Format:       parsedProblemSchema,
	}, &parsed)
	if err != nil {
		return ParsedProblem{}, err
	}

	parsed.ProblemText = strings.TrimSpace(parsed.ProblemText)
	parsed.Topic = strings.TrimSpace(parsed.Topic)
	if parsed.ProblemText == "" && !parsed.NeedsClarification {
		return ParsedProblem{}, ErrEmptyProblem
	}
	return parsed, nil
}

// Retrieve fetches the top-k knowledge documents for the parsed problem.
func (a *Agents) Retrieve(ctx context.Context, s AgentState) (graph.Update[AgentState], error) {
	matches, err := a.retriever.Search(ctx, s.ParsedProblem.ProblemText, a.topK)
	if err != nil {
		return nil, fmt.Errorf("searching knowledge base: %w", err)
	}

	docs := make([]string, 0, len(matches))
	for _, m := range matches {
		docs = append(docs, FormatDocument(m.Source, m.Content))
	}

	return func(st *AgentState) {
		st.RetrievedDocs = docs
		st.Messages = append(st.Messages, fmt.Sprintf("Retrieved %d chunks from KB.", len(docs)))
	}, nil
}

// FormatDocument renders a retrieved document with its citation.
func FormatDocument(source, content string) string {
	if source == "" {
		source = "Unknown"
	}
	return fmt.Sprintf("[Source: %s]\n%s", source, content)
}

// Solve asks the model for a solution using the retrieved context.
func (a *Agents) Solve(ctx context.Context, s AgentState) (graph.Update[AgentState], error) {
	system, user, err := renderPair("solver", struct {
		Context string
		Problem string
	}{
		Context: strings.Join(s.RetrievedDocs, "\n\n"),
		Problem: s.ParsedProblem.ProblemText,
	})
	if err != nil {
		return nil, err
	}

	resp, err := a.llm.Chat(ctx, &llm.ChatRequest{
		Model:        a.model,
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
	})
	if err != nil {
		return nil, fmt.Errorf("generating solution: %w", err)
	}

	answer := strings.TrimSpace(resp.Content)
	return func(st *AgentState) {
		st.FinalAnswer = answer
		st.Messages = append(st.Messages, "Solver: Generated solution.")
	}, nil
}

// Verify has the model check the solution.
func (a *Agents) Verify(ctx context.Context, s AgentState) (graph.Update[AgentState], error) {
	system, user, err := renderPair("verifier", struct {
		Problem  string
		Solution string
	}{s.ParsedProblem.ProblemText, s.FinalAnswer})
	if err != nil {
		return nil, err
	}

	var result struct {
		IsCorrect bool   `json:"is_correct"`
		Critique  string `json:"critique"`
	}
	err = llm.ChatJSON(ctx, a.llm, &llm.ChatRequest{
		Model:        a.model,
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		Format:       verificationSchema,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("verifying solution: %w", err)
	}

	correct := result.IsCorrect
	return func(st *AgentState) {
		st.IsCorrect = &correct
		st.Critique = strings.TrimSpace(result.Critique)
		st.Messages = append(st.Messages, fmt.Sprintf("Verifier: Correctness = %t", correct))
	}, nil
}

// Explain formats a verified solution as Markdown with LaTeX. A failure here
// keeps the run: surfaces fall back to the final answer.
func (a *Agents) Explain(ctx context.Context, s AgentState) (graph.Update[AgentState], error) {
	explanation, err := a.explain(ctx, s.FinalAnswer)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("explainer failed", "error", err)
		return func(st *AgentState) {
			st.Messages = append(st.Messages, fmt.Sprintf("Explainer: Failed to explain. Error: %v", err))
		}, nil
	}

	return func(st *AgentState) {
		st.Explanation = explanation
		st.Messages = append(st.Messages, "Explainer: Generated explanation.")
	}, nil
}

func (a *Agents) explain(ctx context.Context, solution string) (string, error) {
	system, user, err := renderPair("explainer", struct{ Solution string }{solution})
	if err != nil {
		return "", err
	}
	resp, err := a.llm.Chat(ctx, &llm.ChatRequest{
		Model:        a.model,
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// timed records node latency.
func timed(name string, fn graph.NodeFunc[AgentState]) graph.NodeFunc[AgentState] {
	return func(ctx context.Context, s AgentState) (graph.Update[AgentState], error) {
		start := time.Now()
		update, err := fn(ctx, s)
		metrics.NodeDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		return update, err
	}
}
