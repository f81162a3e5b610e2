// Package config handles configuration loading for mentor-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Unset fields receive defaults before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from MENTOR_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/mentor/gateway.yaml
//  3. ~/.config/mentor/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	llm:
//	  api_key: "${OPENAI_API_KEY}"
//
// When llm.api_key is left empty the key is read from OPENAI_API_KEY
// (or GEMINI_API_KEY / GOOGLE_API_KEY for the gemini provider).
//
// # Configuration Sections
//
//	server:
//	  http_addr: "localhost:8080"
//
//	database:
//	  path: "~/.local/share/mentor/mentor.db"
//
//	llm:
//	  provider: "openai"          # openai, gemini
//	  model: "gpt-4o"
//	  transcription_model: "gpt-4o-transcribe"
//	  timeout: "120s"
//	  max_retries: 3
//	  retry_backoff: "1s"
//
//	embedding:
//	  provider: "openai"
//	  model: "text-embedding-3-small"
//
//	knowledge:
//	  seed_file: ""               # optional TOML knowledge base
//	  top_k: 3
//	  batch_size: 5
//
//	pipeline:
//	  step_limit: 25
//	  run_timeout: "5m"
//	  dedupe_window: "2m"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
