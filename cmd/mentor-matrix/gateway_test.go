// ABOUTME: Tests for the gateway client against an httptest server
// ABOUTME: Covers SSE parsing, duplicates, streamed errors, and image upload

package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mentor-gateway/internal/session"
	"github.com/2389/mentor-gateway/internal/tutor"
)

func writeSSE(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, e := range events {
		_, _ = io.WriteString(w, e)
	}
}

func TestSolve_StreamsStepsAndResult(t *testing.T) {
	var gotAuth string
	var gotReq SolveRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/solve", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		writeSSE(w,
			"event: started\ndata: {\"type\":\"started\",\"run_id\":\"r1\",\"url\":\"http://mentor.test/runs/r1\"}\n\n",
			"event: step\ndata: {\"type\":\"step\",\"run_id\":\"r1\",\"seq\":1,\"node\":\"parser\",\"next\":\"retriever\"}\n\n",
			"event: step\ndata: {\"type\":\"step\",\"run_id\":\"r1\",\"seq\":2,\"node\":\"retriever\"}\n\n",
			"event: done\ndata: {\"type\":\"done\",\"run_id\":\"r1\",\"url\":\"http://mentor.test/runs/r1\",\"result\":{\"outcome\":\"verified\",\"answer\":\"x = 2\",\"display\":\"**x = 2**\"}}\n\n",
		)
	}))
	defer srv.Close()

	client := NewGatewayClient(srv.URL+"/", "tok")
	var nodes []string
	out, err := client.Solve(context.Background(), SolveRequest{Text: "x+1=3", InputType: "text"}, func(evt StreamEvent) {
		if evt.Type == session.EventStep {
			nodes = append(nodes, evt.Node)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, SolveRequest{Text: "x+1=3", InputType: "text"}, gotReq)
	assert.Equal(t, []string{"parser", "retriever"}, nodes)
	assert.Equal(t, "r1", out.RunID)
	assert.Equal(t, "http://mentor.test/runs/r1", out.URL)
	assert.False(t, out.Duplicate)
	assert.Equal(t, tutor.OutcomeVerified, out.Result.Outcome)
	assert.Equal(t, "**x = 2**", out.Result.Display)
}

func TestSolve_Duplicate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			"event: duplicate\ndata: {\"type\":\"duplicate\",\"run_id\":\"r0\",\"url\":\"http://mentor.test/runs/r0\"}\n\n",
			"event: done\ndata: {\"type\":\"done\",\"run_id\":\"r0\",\"result\":{\"outcome\":\"unverified\",\"answer\":\"5\"}}\n\n",
		)
	}))
	defer srv.Close()

	out, err := NewGatewayClient(srv.URL, "").Solve(context.Background(), SolveRequest{Text: "q"}, nil)
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, "r0", out.RunID)
	assert.Equal(t, "http://mentor.test/runs/r0", out.URL)
	assert.Equal(t, tutor.OutcomeUnverified, out.Result.Outcome)
}

func TestSolve_StreamedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			"event: started\ndata: {\"type\":\"started\",\"run_id\":\"r1\"}\n\n",
			"event: error\ndata: {\"type\":\"error\",\"run_id\":\"r1\",\"error\":\"recording run failed\"}\n\n",
		)
	}))
	defer srv.Close()

	_, err := NewGatewayClient(srv.URL, "").Solve(context.Background(), SolveRequest{Text: "q"}, nil)
	assert.ErrorContains(t, err, "recording run failed")
}

func TestSolve_TruncatedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, "event: started\ndata: {\"type\":\"started\",\"run_id\":\"r1\"}\n\n")
	}))
	defer srv.Close()

	_, err := NewGatewayClient(srv.URL, "").Solve(context.Background(), SolveRequest{Text: "q"}, nil)
	assert.ErrorContains(t, err, "stream ended")
}

func TestSolve_JSONErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid token"}`)
	}))
	defer srv.Close()

	_, err := NewGatewayClient(srv.URL, "bad").Solve(context.Background(), SolveRequest{Text: "q"}, nil)
	require.Error(t, err)
	assert.Equal(t, "gateway error (401): invalid token", err.Error())
}

func TestExtractImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/extract/image", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer func() { _ = file.Close() }()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "homework.png", header.Filename)
		assert.Equal(t, "PNGDATA", string(data))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"Solve 2x = 4","input_type":"image"}`)
	}))
	defer srv.Close()

	text, err := NewGatewayClient(srv.URL, "tok").ExtractImage(context.Background(), "homework.png", []byte("PNGDATA"))
	require.NoError(t, err)
	assert.Equal(t, "Solve 2x = 4", text)
}

func TestExtractImage_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"error":"no text could be extracted"}`)
	}))
	defer srv.Close()

	_, err := NewGatewayClient(srv.URL, "").ExtractImage(context.Background(), "blank.png", []byte("x"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no text could be extracted"))
}
