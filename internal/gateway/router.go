// ABOUTME: Route table for the tutoring API, the MCP endpoint, and per-route request metrics
// ABOUTME: Wraps every handler with a status-recording middleware that feeds Prometheus

package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/mentor-gateway/internal/auth"
	"github.com/2389/mentor-gateway/internal/mcp"
	"github.com/2389/mentor-gateway/internal/metrics"
)

// registerRoutes mounts the API behind authMiddleware. Run pages are public
// so links posted to chat rooms open without a token.
func (g *Gateway) registerRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	api := map[string]http.HandlerFunc{
		"POST /api/extract/image":      g.handleExtractImage,
		"POST /api/extract/audio":      g.handleExtractAudio,
		"POST /api/solve":              g.handleSolve,
		"GET /api/runs":                g.handleListRuns,
		"GET /api/runs/{id}":           g.handleGetRun,
		"GET /api/runs/{id}/events":    g.handleRunEvents,
		"POST /api/runs/{id}/feedback": g.handleFeedback,
		"GET /api/memory":              g.handleExportMemory,
		"POST /api/memory/import":      g.handleImportMemory,
		"GET /api/knowledge/search":    g.handleKnowledgeSearch,
		"GET /api/stats/usage":         g.handleUsageStats,
	}
	for pattern, h := range api {
		mux.Handle(pattern, instrument(pattern, authMiddleware(h)))
	}

	mux.Handle("GET /runs/{id}", instrument("GET /runs/{id}", http.HandlerFunc(g.handleRunPage)))
}

// registerMCP mounts the MCP endpoint. It authenticates sessions itself, so
// it sits outside the API middleware.
func (g *Gateway) registerMCP(mux *http.ServeMux, verifier auth.TokenVerifier) error {
	server, err := mcp.NewServer(mcp.Config{
		Tools: mcp.TutorTools(mcp.ToolDeps{
			Solver:    g.runs,
			Runs:      g.runs,
			Knowledge: g.knowledge,
			RunURL:    g.RunURL,
		}),
		Logger:        g.logger,
		TokenVerifier: verifier,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	inner := http.NewServeMux()
	server.RegisterRoutes(inner)
	mux.Handle("/mcp", instrument("/mcp", inner))
	g.logger.Info("MCP endpoint enabled", "path", "/mcp")
	return nil
}

func metricsHandler() http.Handler {
	return metrics.Handler()
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Flush keeps SSE handlers working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument records count and latency under the route pattern, not the raw
// path, so run IDs don't explode label cardinality.
func instrument(pattern string, next http.Handler) http.Handler {
	method, route, ok := strings.Cut(pattern, " ")
	if !ok {
		method, route = "", pattern
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		m := method
		if m == "" {
			m = r.Method
		}
		metrics.RequestCount.WithLabelValues(m, route, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(m, route).Observe(time.Since(start).Seconds())
	})
}
