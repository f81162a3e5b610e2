// ABOUTME: Tutoring tools exposed over MCP: solve a problem, search knowledge, fetch a run
// ABOUTME: Each tool decodes JSON arguments and returns text for the calling agent

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/mentor-gateway/internal/auth"
	"github.com/2389/mentor-gateway/internal/knowledge"
	"github.com/2389/mentor-gateway/internal/session"
	"github.com/2389/mentor-gateway/internal/store"
	"github.com/2389/mentor-gateway/internal/tutor"
)

var (
	// ErrInvalidArguments marks arguments that do not match the tool's schema.
	ErrInvalidArguments = errors.New("invalid arguments")
	// ErrToolFailed marks failures whose message is safe to show the caller.
	ErrToolFailed = errors.New("tool failed")
)

const (
	defaultSearchResults = 4
	maxSearchResults     = 20
)

// Handler runs a tool. The student is available via auth.StudentFromContext.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is one callable exposed through tools/list and tools/call.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// Solver runs the tutoring pipeline.
type Solver interface {
	Solve(ctx context.Context, req session.SolveRequest, onEvent func(*session.Event)) (*session.SolveResponse, error)
}

// RunReader loads recorded runs.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*session.RunDetail, error)
}

// Searcher queries the knowledge base.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]knowledge.Match, error)
}

// ToolDeps are the services the tutoring tools call into.
type ToolDeps struct {
	Solver    Solver
	Runs      RunReader
	Knowledge Searcher
	// RunURL links a run to its public page; optional.
	RunURL func(runID string) string
}

// SolveToolResult is the JSON text returned by solve_math_problem.
type SolveToolResult struct {
	RunID       string `json:"run_id"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	Outcome     string `json:"outcome"`
	Problem     string `json:"problem,omitempty"`
	Answer      string `json:"answer,omitempty"`
	Explanation string `json:"explanation,omitempty"`
	Notice      string `json:"notice,omitempty"`
	Critique    string `json:"critique,omitempty"`
	URL         string `json:"url,omitempty"`
}

// TutorTools builds the tools backed by the given services. Services left
// nil contribute no tools.
func TutorTools(deps ToolDeps) []Tool {
	var tools []Tool
	if deps.Solver != nil {
		tools = append(tools, Tool{
			Name:        "solve_math_problem",
			Description: "Solve a math problem step by step. The answer is checked by a verifier; the result says whether it was verified, needs clarification, or could not be confirmed.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string","description":"The problem statement"}},"required":["text"]}`),
			Handler:     solveHandler(deps),
		})
	}
	if deps.Knowledge != nil {
		tools = append(tools, Tool{
			Name:        "search_knowledge",
			Description: "Search the tutor's knowledge base of formulas, worked examples, and confirmed solutions.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"k":{"type":"integer","minimum":1,"maximum":20}},"required":["query"]}`),
			Handler:     searchHandler(deps.Knowledge),
		})
	}
	if deps.Runs != nil {
		tools = append(tools, Tool{
			Name:        "get_run",
			Description: "Fetch a previous run's problem, outcome, and explanation by ID.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"run_id":{"type":"string"}},"required":["run_id"]}`),
			Handler:     getRunHandler(deps),
		})
	}
	return tools
}

func decodeArgs(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func solveHandler(deps ToolDeps) Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var in struct {
			Text string `json:"text"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		if strings.TrimSpace(in.Text) == "" {
			return "", fmt.Errorf("%w: text is required", ErrInvalidArguments)
		}

		// The run is recorded even if the agent disconnects mid-solve.
		resp, err := deps.Solver.Solve(context.WithoutCancel(ctx), session.SolveRequest{
			Student:   auth.StudentFromContext(ctx),
			Text:      in.Text,
			InputType: tutor.InputText,
		}, nil)
		if err != nil {
			return "", err
		}

		res := resp.Result
		if res.Outcome == tutor.OutcomeFailed {
			msg := "could not solve the problem"
			if res.Error != "" {
				msg += ": " + res.Error
			}
			return "", fmt.Errorf("%w: %s", ErrToolFailed, msg)
		}

		out := SolveToolResult{
			RunID:       resp.RunID,
			Duplicate:   resp.Duplicate,
			Outcome:     string(res.Outcome),
			Problem:     res.ProblemText,
			Answer:      res.Answer,
			Explanation: res.Explanation,
			Notice:      res.Notice,
			Critique:    res.Critique,
		}
		if deps.RunURL != nil {
			out.URL = deps.RunURL(resp.RunID)
		}
		return marshalText(out)
	}
}

func searchHandler(kb Searcher) Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var in struct {
			Query string `json:"query"`
			K     int    `json:"k"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		if strings.TrimSpace(in.Query) == "" {
			return "", fmt.Errorf("%w: query is required", ErrInvalidArguments)
		}
		k := in.K
		if k <= 0 {
			k = defaultSearchResults
		}
		k = min(k, maxSearchResults)

		matches, err := kb.Search(ctx, in.Query, k)
		if err != nil {
			return "", err
		}
		if len(matches) == 0 {
			return "No matching documents.", nil
		}

		var b strings.Builder
		for i, m := range matches {
			if i > 0 {
				b.WriteString("\n\n---\n\n")
			}
			fmt.Fprintf(&b, "[%d] %s (score %.2f)", i+1, m.Source, m.Score)
			if m.Topic != "" {
				fmt.Fprintf(&b, " topic: %s", m.Topic)
			}
			b.WriteString("\n")
			b.WriteString(m.Content)
		}
		return b.String(), nil
	}
}

func getRunHandler(deps ToolDeps) Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var in struct {
			RunID string `json:"run_id"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		if in.RunID == "" {
			return "", fmt.Errorf("%w: run_id is required", ErrInvalidArguments)
		}

		detail, err := deps.Runs.GetRun(ctx, in.RunID)
		if err != nil {
			return "", err
		}
		// Other students' runs look the same as missing ones.
		if detail.Run.Student != auth.StudentFromContext(ctx) {
			return "", store.ErrNotFound
		}

		out := SolveToolResult{
			RunID:   detail.Run.ID,
			Outcome: detail.Run.Outcome,
			Problem: detail.Run.RawInput,
		}
		if out.Outcome == "" {
			out.Outcome = string(detail.Run.Status)
		}
		if res := detail.Result; res != nil {
			if res.ProblemText != "" {
				out.Problem = res.ProblemText
			}
			out.Answer = res.Answer
			out.Explanation = res.Explanation
			out.Notice = res.Notice
			out.Critique = res.Critique
		}
		if deps.RunURL != nil {
			out.URL = deps.RunURL(detail.Run.ID)
		}
		return marshalText(out)
	}
}

func marshalText(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(data), nil
}
