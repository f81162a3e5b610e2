// ABOUTME: Scripted fake model and retriever for exercising the pipeline in tests
// ABOUTME: Replies are chosen by recognizing which agent's system prompt is in use

package tutor

import (
	"context"
	"strings"
	"sync"

	"github.com/2389/mentor-gateway/internal/knowledge"
	"github.com/2389/mentor-gateway/internal/llm"
)

// Replies scripts the fake model's answer for each agent. Errs, when set
// for a node name, is returned instead of the reply.
type Replies struct {
	Parser    string
	Solver    string
	Verifier  string
	Explainer string
	Errs      map[string]error
}

// VerifiedReplies is a complete happy-path script.
func VerifiedReplies() Replies {
	return Replies{
		Parser:    `{"problem_text":"Solve x^2 - 5x + 6 = 0","topic":"Algebra","needs_clarification":false}`,
		Solver:    "Factor: (x-2)(x-3) = 0, so x = 2 or x = 3.",
		Verifier:  `{"is_correct":true,"critique":"Factoring is correct."}`,
		Explainer: "We factor $$x^2 - 5x + 6 = (x-2)(x-3)$$ so $x = 2$ or $x = 3$.",
	}
}

// NewFakeModel returns a fake client that answers as scripted by r.
func NewFakeModel(r Replies) *llm.FakeClient {
	return &llm.FakeClient{
		ChatFunc: func(req *llm.ChatRequest) (string, error) {
			node := agentFor(req.SystemPrompt)
			if err := r.Errs[node]; err != nil {
				return "", err
			}
			switch node {
			case NodeParser:
				return r.Parser, nil
			case NodeSolver:
				return r.Solver, nil
			case NodeVerifier:
				return r.Verifier, nil
			case NodeExplainer:
				return r.Explainer, nil
			}
			return "", llm.ErrEmptyResponse
		},
	}
}

func agentFor(systemPrompt string) string {
	switch {
	case strings.HasPrefix(systemPrompt, "You are a Math Parser"):
		return NodeParser
	case strings.HasPrefix(systemPrompt, "You are a JEE Math Tutor"):
		return NodeSolver
	case strings.HasPrefix(systemPrompt, "You are a Senior Math Professor"):
		return NodeVerifier
	case strings.Contains(systemPrompt, "Explain the solution clearly"):
		return NodeExplainer
	}
	return ""
}

// StaticRetriever returns the same matches for every query.
type StaticRetriever struct {
	Matches []knowledge.Match
	Err     error

	mu      sync.Mutex
	queries []string
}

// Search records the query and returns up to k matches.
func (r *StaticRetriever) Search(ctx context.Context, query string, k int) ([]knowledge.Match, error) {
	r.mu.Lock()
	r.queries = append(r.queries, query)
	r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	if k < len(r.Matches) {
		return r.Matches[:k], nil
	}
	return r.Matches, nil
}

// Queries returns the queries seen so far.
func (r *StaticRetriever) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}
