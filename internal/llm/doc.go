// Package llm talks to hosted language models.
//
// Two providers are supported: an OpenAI-compatible HTTP client
// (chat completions with vision parts and JSON schema output, plus
// /audio/transcriptions) and Gemini through the genai SDK. Both satisfy
// Client, which combines Provider and Transcriber.
//
// New builds the configured provider and wraps it so each call is
// instrumented and transient failures (429, 5xx, transport errors) are
// retried with Fibonacci backoff:
//
//	client, err := llm.New(ctx, cfg.LLM, logger)
//	var out struct{ Topic string `json:"topic"` }
//	err = llm.ChatJSON(ctx, client, &llm.ChatRequest{...}, &out)
package llm
