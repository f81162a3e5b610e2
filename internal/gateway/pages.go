// ABOUTME: Public HTML page for a run with the solution rendered from Markdown
// ABOUTME: Maps the run's outcome to the notice shown above the explanation

package gateway

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/2389/mentor-gateway/internal/render"
	"github.com/2389/mentor-gateway/internal/session"
	"github.com/2389/mentor-gateway/internal/store"
	"github.com/2389/mentor-gateway/internal/tutor"
)

// handleRunPage handles GET /runs/{id}.
func (g *Gateway) handleRunPage(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	detail, err := g.runs.GetRun(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		g.logger.Error("failed to load run page", "run_id", runID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := g.pages.Run(&buf, runPage(detail)); err != nil {
		g.logger.Error("failed to render run page", "run_id", runID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func runPage(detail *session.RunDetail) render.RunPage {
	run := detail.Run
	page := render.RunPage{
		ID:        run.ID,
		Student:   run.Student,
		Status:    string(run.Status),
		Outcome:   run.Outcome,
		Problem:   run.RawInput,
		CreatedAt: run.CreatedAt,
	}
	for _, ev := range detail.Events {
		page.Steps = append(page.Steps, render.Step{Node: ev.Node, Message: ev.Message})
	}

	res := detail.Result
	if res == nil {
		page.Notice = "This run is still in progress. Refresh to see the solution."
		page.NoticeKind = "info"
		return page
	}

	if res.ProblemText != "" {
		page.Problem = res.ProblemText
	}
	page.Markdown = res.Display
	page.Notice = res.Notice
	switch res.Outcome {
	case tutor.OutcomeUnverified:
		page.NoticeKind = "warning"
		page.Critique = res.Critique
	case tutor.OutcomeFailed:
		page.NoticeKind = "error"
		if page.Notice == "" {
			page.Notice = res.Error
		}
	default:
		page.NoticeKind = "info"
	}
	return page
}
