// Package mcp exposes the tutor to external AI agents over the Model Context
// Protocol.
//
// # Protocol
//
// The server speaks JSON-RPC 2.0 on a single endpoint using the Streamable
// HTTP transport:
//
//   - POST /mcp - initialize, ping, tools/list, tools/call, notifications
//   - DELETE /mcp - terminate a session
//
// GET /mcp returns 405; the server never opens its own event stream.
// initialize returns an Mcp-Session-Id header that every later request must
// echo.
//
// # Authentication
//
// When a TokenVerifier is configured, initialize requires
//
//	Authorization: Bearer <token>
//
// with the same JWT the HTTP API accepts. The session is bound to the
// token's student: solved problems are recorded under that student and
// get_run only returns that student's runs.
//
// # Tools
//
//   - solve_math_problem {"text": "..."} - run the tutoring pipeline
//   - search_knowledge {"query": "...", "k": 4} - query the knowledge base
//   - get_run {"run_id": "..."} - fetch a recorded run
//
// A failed solve or a missing run comes back as a tool result with isError
// set. Malformed arguments are JSON-RPC invalid params errors.
//
// # Client configuration
//
//	{
//	  "mcpServers": {
//	    "mentor": {
//	      "url": "https://mentor.example.com/mcp",
//	      "headers": {"Authorization": "Bearer <token>"}
//	    }
//	  }
//	}
package mcp
