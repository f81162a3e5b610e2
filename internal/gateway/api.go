// ABOUTME: HTTP API handlers for solving problems, watching runs, and recording feedback
// ABOUTME: Solve and run-watch responses stream as Server-Sent Events

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/mentor-gateway/internal/auth"
	"github.com/2389/mentor-gateway/internal/session"
	"github.com/2389/mentor-gateway/internal/store"
	"github.com/2389/mentor-gateway/internal/tutor"
)

// SolveRequest is the JSON request body for POST /api/solve.
type SolveRequest struct {
	Text      string `json:"text"`
	InputType string `json:"input_type,omitempty"`
}

// FeedbackRequest is the JSON request body for POST /api/runs/{id}/feedback.
type FeedbackRequest struct {
	Accurate *bool  `json:"accurate"`
	Comment  string `json:"comment,omitempty"`
}

// ExtractResponse is the JSON response for the extract endpoints.
type ExtractResponse struct {
	Text      string `json:"text"`
	InputType string `json:"input_type"`
}

// RunSummary is one entry in GET /api/runs.
type RunSummary struct {
	ID         string     `json:"id"`
	InputType  string     `json:"input_type"`
	RawInput   string     `json:"raw_input"`
	Status     string     `json:"status"`
	Outcome    string     `json:"outcome,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	URL        string     `json:"url"`
}

// SSEEvent is one run event on the wire. URL links to the run page.
type SSEEvent struct {
	*session.Event
	URL string `json:"url,omitempty"`
}

// parseSolveRequest parses and validates a SolveRequest from the given reader.
// Returns an error if the JSON is invalid, the text is blank, or the input type is unknown.
func parseSolveRequest(r io.Reader) (*SolveRequest, error) {
	var req SolveRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("text is required")
	}

	if req.InputType == "" {
		req.InputType = string(tutor.InputText)
	}
	if !tutor.InputType(req.InputType).Valid() {
		return nil, fmt.Errorf("input_type must be text, image, or audio")
	}

	return &req, nil
}

// sseStream writes run events lazily: headers go out with the first event,
// so a failure before any event can still be reported as a JSON error.
type sseStream struct {
	g       *Gateway
	w       http.ResponseWriter
	flusher http.Flusher
	client  context.Context
	started bool
}

func (g *Gateway) newSSEStream(w http.ResponseWriter, r *http.Request) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}
	return &sseStream{g: g, w: w, flusher: flusher, client: r.Context()}, true
}

func (s *sseStream) send(ev *session.Event) {
	if s.client.Err() != nil {
		return
	}
	if !s.started {
		setSSEHeaders(s.w)
		s.started = true
	}

	out := SSEEvent{Event: ev}
	if ev.Type != session.EventStep {
		out.URL = s.g.RunURL(ev.RunID)
	}
	s.g.writeSSEEvent(s.w, string(ev.Type), out)
	s.flusher.Flush()
}

// fail reports err as a JSON error before the stream starts, or as an SSE
// error event after.
func (s *sseStream) fail(status int, msg string) {
	if !s.started {
		s.g.sendJSONError(s.w, status, msg)
		return
	}
	if s.client.Err() != nil {
		return
	}
	s.g.writeSSEEvent(s.w, string(session.EventError), map[string]string{"error": msg})
	s.flusher.Flush()
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// handleSolve handles POST /api/solve.
// Runs the tutoring pipeline and streams started, step, and done (or error)
// events. A submission matching a recent one streams a duplicate event and
// then the original run's progress. The run continues if the client
// disconnects; GET /api/runs/{id}/events picks it up again.
func (g *Gateway) handleSolve(w http.ResponseWriter, r *http.Request) {
	req, err := parseSolveRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	stream, ok := g.newSSEStream(w, r)
	if !ok {
		return
	}

	_, err = g.runs.Solve(context.WithoutCancel(r.Context()), session.SolveRequest{
		Student:   auth.StudentFromContext(r.Context()),
		Text:      req.Text,
		InputType: tutor.InputType(req.InputType),
	}, stream.send)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrEmptyInput), errors.Is(err, session.ErrInvalidInputType):
			stream.fail(http.StatusBadRequest, err.Error())
		default:
			g.logger.Error("failed to solve", "error", err)
			stream.fail(http.StatusInternalServerError, "internal server error")
		}
	}
}

// handleRunEvents handles GET /api/runs/{id}/events.
// Replays a run's recorded steps and follows it live until it finishes.
func (g *Gateway) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, ok := g.ownedRun(w, r, runID); !ok {
		return
	}

	stream, ok := g.newSSEStream(w, r)
	if !ok {
		return
	}

	err := g.runs.Watch(r.Context(), runID, stream.send)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, store.ErrNotFound):
		stream.fail(http.StatusNotFound, "run not found")
	default:
		g.logger.Error("failed to watch run", "run_id", runID, "error", err)
		stream.fail(http.StatusInternalServerError, "internal server error")
	}
}

// ownedRun loads a run and checks it belongs to the requesting student.
// Another student's run is reported as not found.
func (g *Gateway) ownedRun(w http.ResponseWriter, r *http.Request, runID string) (*session.RunDetail, bool) {
	detail, err := g.runs.GetRun(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	if err != nil {
		g.logger.Error("failed to get run", "run_id", runID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if detail.Run.Student != auth.StudentFromContext(r.Context()) {
		g.sendJSONError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	return detail, true
}

// handleGetRun handles GET /api/runs/{id}.
func (g *Gateway) handleGetRun(w http.ResponseWriter, r *http.Request) {
	detail, ok := g.ownedRun(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	g.sendJSON(w, http.StatusOK, detail)
}

// handleListRuns handles GET /api/runs.
// Query params: status (running, completed, failed), limit (default 50).
func (g *Gateway) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		Student: auth.StudentFromContext(r.Context()),
		Limit:   50,
	}

	if status := r.URL.Query().Get("status"); status != "" {
		switch store.RunStatus(status) {
		case store.RunStatusRunning, store.RunStatusCompleted, store.RunStatusFailed:
			filter.Status = store.RunStatus(status)
		default:
			g.sendJSONError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		filter.Limit = limit
	}

	runs, err := g.runs.ListRuns(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to list runs", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	summaries := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, RunSummary{
			ID:         run.ID,
			InputType:  run.InputType,
			RawInput:   run.RawInput,
			Status:     string(run.Status),
			Outcome:    run.Outcome,
			CreatedAt:  run.CreatedAt,
			FinishedAt: run.FinishedAt,
			URL:        g.RunURL(run.ID),
		})
	}

	g.sendJSON(w, http.StatusOK, map[string]any{"runs": summaries})
}

// handleFeedback handles POST /api/runs/{id}/feedback.
// An accurate verdict stores the solution in problem memory.
func (g *Gateway) handleFeedback(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Accurate == nil {
		g.sendJSONError(w, http.StatusBadRequest, "accurate is required")
		return
	}

	if _, ok := g.ownedRun(w, r, runID); !ok {
		return
	}

	err := g.runs.Feedback(r.Context(), session.FeedbackRequest{
		RunID:    runID,
		Student:  auth.StudentFromContext(r.Context()),
		Accurate: *req.Accurate,
		Comment:  req.Comment,
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "run not found")
		return
	case errors.Is(err, session.ErrRunNotFinished):
		g.sendJSONError(w, http.StatusConflict, "run has not finished")
		return
	case errors.Is(err, session.ErrNoAnswer):
		g.sendJSONError(w, http.StatusUnprocessableEntity, "run has no answer to save")
		return
	default:
		g.logger.Error("failed to record feedback", "run_id", runID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, map[string]any{"run_id": runID, "saved": *req.Accurate})
}

// handleExportMemory handles GET /api/memory.
// Responds with every confirmed solution as a JSON array of {problem, solution, verified}.
func (g *Gateway) handleExportMemory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := g.runs.ExportMemory(r.Context(), w); err != nil {
		// Headers may already be out; all we can do is log.
		g.logger.Error("failed to export memory", "error", err)
	}
}

// handleImportMemory handles POST /api/memory/import.
// Accepts the export format and adds each entry to memory and the knowledge base.
func (g *Gateway) handleImportMemory(w http.ResponseWriter, r *http.Request) {
	n, err := g.runs.ImportMemory(r.Context(), r.Body)
	if err != nil {
		g.logger.Warn("failed to import memory", "error", err)
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// handleKnowledgeSearch handles GET /api/knowledge/search.
// Query params: q (required), k (optional result count).
func (g *Gateway) handleKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	if g.knowledge == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "knowledge base not configured")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		g.sendJSONError(w, http.StatusBadRequest, "q is required")
		return
	}

	k := 0
	if kStr := r.URL.Query().Get("k"); kStr != "" {
		parsed, err := strconv.Atoi(kStr)
		if err != nil || parsed < 1 || parsed > 50 {
			g.sendJSONError(w, http.StatusBadRequest, "k must be between 1 and 50")
			return
		}
		k = parsed
	}

	matches, err := g.knowledge.Search(r.Context(), query, k)
	if err != nil {
		g.logger.Error("knowledge search failed", "error", err)
		g.sendJSONError(w, http.StatusBadGateway, "knowledge search failed")
		return
	}

	g.sendJSON(w, http.StatusOK, map[string]any{"query": query, "matches": matches})
}

// handleUsageStats handles GET /api/stats/usage.
// Query param since (RFC 3339) limits the aggregate to recent usage.
func (g *Gateway) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		t, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid since parameter (use RFC3339)")
			return
		}
		since = &t
	}

	stats, err := g.store.GetUsageStats(r.Context(), since)
	if err != nil {
		g.logger.Error("failed to get usage stats", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, stats)
}

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	_, _ = io.WriteString(w, formatSSEEvent(event, string(dataJSON)))
}

// sendJSON writes a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
