// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid, tampered, foreign-issuer, and expired tokens

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-key-for-jwt-signing")

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	return v
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	if _, err := NewJWTVerifier(nil); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("NewJWTVerifier(nil) error = %v, want ErrEmptySecret", err)
	}
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate("ada", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	student, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if student != "ada" {
		t.Errorf("Verify() = %q, want %q", student, "ada")
	}
}

func TestJWTVerifier_NoExpiry(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate("ada", 0)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	// Far in the future the token is still accepted
	verifier.now = func() time.Time { return time.Now().Add(10 * 365 * 24 * time.Hour) }
	if _, err := verifier.Verify(token); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestJWTVerifier_EmptyStudent(t *testing.T) {
	verifier := newTestVerifier(t)
	if _, err := verifier.Generate("", time.Hour); !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Generate(\"\") error = %v, want ErrMissingClaim", err)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	other, err := NewJWTVerifier([]byte("some-other-secret"))
	if err != nil {
		t.Fatal(err)
	}
	wrongSecret, _ := other.Generate("ada", time.Hour)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ada",
		"iss": "someone-else",
	})
	foreignIssuer, _ := foreign.SignedString(testSecret)

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": Issuer})
	missingSub, _ := noSub.SignedString(testSecret)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"empty", "", ErrInvalidToken},
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"wrong secret", wrongSecret, ErrInvalidToken},
		{"foreign issuer", foreignIssuer, ErrInvalidToken},
		{"missing subject", missingSub, ErrMissingClaim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate("ada", time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	verifier.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_RejectsNoneAlgorithm(t *testing.T) {
	verifier := newTestVerifier(t)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "ada", "iss": Issuer})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}
