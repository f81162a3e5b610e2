// ABOUTME: Tests for CLI argument parsing, config paths, and terminal output
// ABOUTME: Colors are disabled so output can be compared as plain text

package main

import (
	"bufio"
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mentor-gateway/internal/config"
	"github.com/2389/mentor-gateway/internal/session"
	"github.com/2389/mentor-gateway/internal/tutor"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("MENTOR_CONFIG", "/etc/mentor.yaml")
	assert.Equal(t, "/etc/mentor.yaml", getConfigPath())

	t.Setenv("MENTOR_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "mentor", "gateway.yaml"), getConfigPath())
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/data", "mentor"), getDataPath())
}

func TestParseBootstrapArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    bootstrapArgs
		wantErr string
	}{
		{name: "separate value", args: []string{"--name", "Asha"}, want: bootstrapArgs{name: "Asha"}},
		{name: "equals form", args: []string{"--name=Asha Rao"}, want: bootstrapArgs{name: "Asha Rao"}},
		{name: "short form with out", args: []string{"-n", "Ravi", "--out", "/tmp/ravi"}, want: bootstrapArgs{name: "Ravi", out: "/tmp/ravi"}},
		{name: "missing", args: nil, wantErr: "--name flag is required"},
		{name: "whitespace", args: []string{"--name", "   "}, wantErr: "--name flag is required"},
		{name: "missing value", args: []string{"--name"}, wantErr: "requires a value"},
		{name: "unknown flag", args: []string{"--name", "a", "--owner"}, wantErr: "unknown flag"},
		{name: "too long", args: []string{"--name", strings.Repeat("x", 101)}, wantErr: "maximum length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBootstrapArgs(tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBootstrapConfig_Loads(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	dir := t.TempDir()
	secret, err := generateSecret()
	require.NoError(t, err)

	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(bootstrapConfig(filepath.Join(dir, "mentor.db"), secret)), 0600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, secret, cfg.Auth.JWTSecret)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
}

func TestGenerateSecret_Unique(t *testing.T) {
	a, err := generateSecret()
	require.NoError(t, err)
	b, err := generateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 44)
}

func TestParseSolveArgs(t *testing.T) {
	t.Setenv("USER", "asha")

	a, err := parseSolveArgs([]string{"solve", "x^2", "-", "5x", "+", "6", "=", "0"})
	require.NoError(t, err)
	assert.Equal(t, "solve x^2 - 5x + 6 = 0", a.text)
	assert.Equal(t, "asha", a.student)

	a, err = parseSolveArgs([]string{"--image", "hw.png", "--student=ravi", "-y"})
	require.NoError(t, err)
	assert.Equal(t, "hw.png", a.image)
	assert.Equal(t, "ravi", a.student)
	assert.True(t, a.yes)

	a, err = parseSolveArgs([]string{"--", "--x", "=", "2"})
	require.NoError(t, err)
	assert.Equal(t, "--x = 2", a.text)

	_, err = parseSolveArgs(nil)
	assert.Error(t, err)

	_, err = parseSolveArgs([]string{"--audio", "q.mp3", "also text"})
	assert.ErrorContains(t, err, "only one")

	_, err = parseSolveArgs([]string{"--image"})
	assert.ErrorContains(t, err, "requires a value")

	_, err = parseSolveArgs([]string{"--verbose", "2+2"})
	assert.ErrorContains(t, err, "unknown flag")
}

func TestGatewayURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", gatewayURL(&config.Config{Server: config.ServerConfig{HTTPAddr: "localhost:8080"}}))
	assert.Equal(t, "https://mentor.example.com", gatewayURL(&config.Config{Server: config.ServerConfig{BaseURL: "https://mentor.example.com/"}}))
}

func TestPrompt(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader("custom\n\n"))
	assert.Equal(t, "custom", prompt(reader, "Value", "default"))
	assert.Equal(t, "default", prompt(reader, "Value", "default"))
	// EOF falls back to the default.
	assert.Equal(t, "default", prompt(reader, "Value", "default"))
}

func TestIsYes(t *testing.T) {
	assert.True(t, isYes("Y"))
	assert.True(t, isYes(" yes "))
	assert.False(t, isYes("no"))
	assert.False(t, isYes(""))
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "text", slog.LevelInfo)

	logger.Debug("hidden")
	logger.With("component", "session").Info("run finished", "outcome", "verified")
	logger.WithGroup("req").Warn("slow", "ms", 1200)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF run finished component=session outcome=verified")
	assert.Contains(t, out, "WRN slow req.ms=1200")
}

func TestLocalLogger_RaisesInfoToWarn(t *testing.T) {
	logger := localLogger(config.LoggingConfig{Level: "info"})
	assert.False(t, logger.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, logger.Enabled(t.Context(), slog.LevelWarn))

	logger = localLogger(config.LoggingConfig{Level: "debug"})
	assert.True(t, logger.Enabled(t.Context(), slog.LevelDebug))
}

func TestPrintResult(t *testing.T) {
	t.Run("verified", func(t *testing.T) {
		var buf bytes.Buffer
		printResult(&buf, tutor.Result{Outcome: tutor.OutcomeVerified, Display: "x = 2 or x = 3"})
		assert.Equal(t, "✓ verified\nx = 2 or x = 3\n", buf.String())
	})

	t.Run("unverified shows warning and critique", func(t *testing.T) {
		var buf bytes.Buffer
		printResult(&buf, tutor.Result{
			Outcome:  tutor.OutcomeUnverified,
			Notice:   tutor.UnverifiedNotice,
			Display:  "x = 5",
			Critique: "5 does not satisfy the equation",
		})
		out := buf.String()
		assert.True(t, strings.HasPrefix(out, tutor.UnverifiedNotice))
		assert.Contains(t, out, "x = 5")
		assert.Contains(t, out, "Verifier: 5 does not satisfy the equation")
	})

	t.Run("clarification shows only the request", func(t *testing.T) {
		var buf bytes.Buffer
		printResult(&buf, tutor.Result{
			Outcome: tutor.OutcomeNeedsClarification,
			Notice:  tutor.ClarificationNotice,
			Display: tutor.ClarificationNotice,
		})
		assert.Equal(t, tutor.ClarificationNotice+"\n\n", buf.String())
	})

	t.Run("failed without notice shows the error", func(t *testing.T) {
		var buf bytes.Buffer
		printResult(&buf, tutor.Result{Outcome: tutor.OutcomeFailed, Error: "model unavailable"})
		assert.Equal(t, "model unavailable\n", buf.String())
	})
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	onEvent := printProgress(&buf)
	onEvent(&session.Event{Type: session.EventStarted, RunID: "r1"})
	onEvent(&session.Event{Type: session.EventStep, Node: "parser"})
	onEvent(&session.Event{Type: session.EventStep, Node: "solver", Message: "drafted answer"})
	onEvent(&session.Event{Type: session.EventDone, RunID: "r1"})

	assert.Equal(t, "run r1\n  ▶ parser    \n  ▶ solver     drafted answer\n", buf.String())
}
