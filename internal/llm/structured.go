// ABOUTME: Structured JSON output helpers layered over any Provider
// ABOUTME: Appends the schema to the system prompt and decodes the model's JSON reply

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// ChatJSON sends req and decodes the model's reply into out. The schema in
// req.Format is also written into the system prompt so providers without
// native schema enforcement still see it.
func ChatJSON(ctx context.Context, p Provider, req *ChatRequest, out any) error {
	if req.Format != nil {
		schema, err := json.Marshal(req.Format.Schema)
		if err != nil {
			return fmt.Errorf("marshal schema: %w", err)
		}
		r := *req
		r.SystemPrompt = strings.TrimSpace(req.SystemPrompt +
			"\n\nRespond only with a JSON object matching this schema:\n" + string(schema))
		req = &r
	}

	resp, err := p.Chat(ctx, req)
	if err != nil {
		return err
	}

	raw := ExtractJSON(resp.Content)
	if raw == "" {
		return fmt.Errorf("%w: no JSON object in reply", ErrMalformedOutput)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// ExtractJSON returns the outermost JSON object in s, tolerating code
// fences and surrounding prose. Returns "" when no object is present.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// ObjectSchema builds a strict JSON schema object with every property required.
func ObjectSchema(properties map[string]any) map[string]any {
	required := make([]string, 0, len(properties))
	for name := range properties {
		required = append(required, name)
	}
	slices.Sort(required)
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}
