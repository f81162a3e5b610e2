// ABOUTME: Tests for the HTTP JWT authentication middleware
// ABOUTME: Covers valid tokens, missing/malformed headers, expiry, and disabled auth

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStudent(got *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = StudentFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddleware_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, err := verifier.Generate("ada", time.Hour)
	require.NoError(t, err)

	var student string
	handler := Middleware(verifier)(captureStudent(&student))

	req := httptest.NewRequest(http.MethodGet, "/api/runs/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ada", student)
}

func TestMiddleware_Rejections(t *testing.T) {
	verifier := newTestVerifier(t)
	expired, err := verifier.Generate("ada", time.Minute)
	require.NoError(t, err)

	future := newTestVerifier(t)
	future.now = func() time.Time { return time.Now().Add(time.Hour) }

	tests := []struct {
		name     string
		verifier *JWTVerifier
		header   string
		wantMsg  string
	}{
		{"missing header", verifier, "", "missing authorization header"},
		{"basic scheme", verifier, "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"empty bearer", verifier, "Bearer   ", "empty token"},
		{"garbage token", verifier, "Bearer nope", "invalid token"},
		{"expired token", future, "Bearer " + expired, "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := Middleware(tt.verifier)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/solve", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantMsg, body["error"])
		})
	}
}

func TestMiddleware_LowercaseScheme(t *testing.T) {
	verifier := newTestVerifier(t)
	token, err := verifier.Generate("bob", time.Hour)
	require.NoError(t, err)

	var student string
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rec := httptest.NewRecorder()
	Middleware(verifier)(captureStudent(&student)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "bob", student)
}

func TestMiddleware_Disabled(t *testing.T) {
	var student string
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	Middleware(nil)(captureStudent(&student)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, Anonymous, student)
}

func TestStudentFromContext(t *testing.T) {
	assert.Empty(t, StudentFromContext(context.Background()))
	assert.Equal(t, "ada", StudentFromContext(WithStudent(context.Background(), "ada")))
}
