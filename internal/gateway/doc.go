// Package gateway serves the tutoring pipeline over HTTP.
//
// # Overview
//
// The Gateway owns the HTTP server and, optionally, a Tailscale node that
// provides the listener. Assemble wires the store, knowledge base, model
// client, tutoring graph, and run service from config; New does the same and
// wraps them in a Gateway.
//
// # HTTP API
//
//   - POST /api/extract/image - Photo to problem text (multipart "file")
//   - POST /api/extract/audio - Recording to problem text (multipart "file")
//   - POST /api/solve - Solve a problem (SSE streaming response)
//   - GET /api/runs - List the student's runs
//   - GET /api/runs/{id} - Run with events, result, feedback, and usage
//   - GET /api/runs/{id}/events - Replay and follow a run (SSE)
//   - POST /api/runs/{id}/feedback - Mark a solution accurate or not
//   - GET /api/memory - Export confirmed solutions
//   - POST /api/memory/import - Import confirmed solutions
//   - GET /api/knowledge/search - Query the knowledge base
//   - GET /api/stats/usage - Aggregate token usage
//   - GET /runs/{id} - HTML page for a run (public)
//   - GET /health, GET /health/ready - Liveness and readiness
//   - GET /metrics - Prometheus metrics when enabled
//   - POST/DELETE /mcp - Model Context Protocol tools when mcp.enabled
//
// API routes require a bearer JWT when auth.jwt_secret is set. The token's
// subject is the student; students only see their own runs.
//
// # SSE Streaming
//
// Solve and watch responses are Server-Sent Events:
//
//	event: started
//	data: {"type":"started","run_id":"...","url":"https://.../runs/..."}
//
//	event: step
//	data: {"type":"step","run_id":"...","seq":1,"node":"parser","next":"retriever"}
//
//	event: done
//	data: {"type":"done","run_id":"...","result":{"outcome":"verified",...}}
//
// Event types: started, step, duplicate, done, error. A submission that
// matches a recent one from the same student gets duplicate followed by the
// original run's terminal event.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
//	cancel() // Run shuts down gracefully
package gateway
