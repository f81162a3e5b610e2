// ABOUTME: Gateway API client for the mentor-matrix bridge
// ABOUTME: Streams solve events over SSE and uploads images for text extraction

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/2389/mentor-gateway/internal/session"
	"github.com/2389/mentor-gateway/internal/tutor"
)

// StreamEvent is one SSE event from /api/solve.
type StreamEvent struct {
	session.Event
	URL string `json:"url,omitempty"`
}

// SolveRequest is the request body for POST /api/solve.
type SolveRequest struct {
	Text      string `json:"text"`
	InputType string `json:"input_type,omitempty"`
}

// SolveOutcome is the terminal state of a streamed solve.
type SolveOutcome struct {
	RunID     string
	URL       string
	Duplicate bool
	Result    tutor.Result
}

type errorResponse struct {
	Error string `json:"error"`
}

// GatewayClient communicates with the mentor-gateway HTTP API.
type GatewayClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewGatewayClient creates a new gateway client. token may be empty when
// the gateway runs without auth.
func NewGatewayClient(baseURL, token string) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
	}
}

func (g *GatewayClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	return req, nil
}

// Solve submits problem text and calls onEvent for every SSE event until the
// run finishes. A streamed error event is returned as an error.
func (g *GatewayClient) Solve(ctx context.Context, req SolveRequest, onEvent func(StreamEvent)) (*SolveOutcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := g.newRequest(ctx, http.MethodPost, "/api/solve", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, g.handleErrorResponse(resp)
	}

	return g.parseSSEStream(ctx, resp.Body, onEvent)
}

// ExtractImage uploads an image and returns the problem text read from it.
func (g *GatewayClient) ExtractImage(ctx context.Context, filename string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("writing form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := g.newRequest(ctx, http.MethodPost, "/api/extract/image", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", g.handleErrorResponse(resp)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return out.Text, nil
}

// handleErrorResponse extracts error message from non-200 responses.
func (g *GatewayClient) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, errResp.Error)
		}
	}

	return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// parseSSEStream reads SSE events from the response body.
func (g *GatewayClient) parseSSEStream(ctx context.Context, body io.Reader, onEvent func(StreamEvent)) (*SolveOutcome, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	var dataLines []string
	outcome := &SolveOutcome{}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Text()

		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				var evt StreamEvent
				if err := json.Unmarshal([]byte(strings.Join(dataLines, "\n")), &evt); err != nil {
					return nil, fmt.Errorf("decoding %s event: %w", eventType, err)
				}

				switch evt.Type {
				case session.EventStarted:
					outcome.RunID = evt.RunID
					outcome.URL = evt.URL
				case session.EventDuplicate:
					outcome.RunID = evt.RunID
					outcome.URL = evt.URL
					outcome.Duplicate = true
				case session.EventError:
					return nil, fmt.Errorf("solve failed: %s", evt.Error)
				}

				if onEvent != nil {
					onEvent(evt)
				}

				if evt.Type == session.EventDone {
					if evt.Result != nil {
						outcome.Result = *evt.Result
					}
					if evt.URL != "" {
						outcome.URL = evt.URL
					}
					return outcome, nil
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}

		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading SSE stream: %w", err)
	}
	return nil, fmt.Errorf("stream ended before the run finished")
}
