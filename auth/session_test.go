package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret, subject string, expiry time.Duration) string {
	t.Helper()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// TestVerifyRoundTrip verifies a signed token passes verification
func TestVerifyRoundTrip(t *testing.T) {
	v := NewSessionVerifier("test-secret")
	token := signToken(t, "test-secret", "user_123", time.Hour)

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "user_123" {
		t.Errorf("Subject = %q; want %q", claims.Subject, "user_123")
	}
}

// TestVerifyRejections covers bad secret, expiry, and missing subject
func TestVerifyRejections(t *testing.T) {
	v := NewSessionVerifier("test-secret")

	tests := []struct {
		name  string
		token string
	}{
		{"Wrong secret", signToken(t, "other-secret", "user_123", time.Hour)},
		{"Expired", signToken(t, "test-secret", "user_123", -time.Hour)},
		{"Missing subject", signToken(t, "test-secret", "", time.Hour)},
		{"Garbage", "not-a-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.token); err == nil {
				t.Error("Verify() should fail")
			}
		})
	}
}

// TestTokenFromRequest covers header and cookie extraction
func TestTokenFromRequest(t *testing.T) {
	t.Run("Bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer abc123")
		token, ok := TokenFromRequest(r)
		if !ok || token != "abc123" {
			t.Errorf("TokenFromRequest() = %q, %v", token, ok)
		}
	})

	t.Run("Session cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: "__session", Value: "cookievalue"})
		token, ok := TokenFromRequest(r)
		if !ok || token != "cookievalue" {
			t.Errorf("TokenFromRequest() = %q, %v", token, ok)
		}
	})

	t.Run("Absent", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if _, ok := TokenFromRequest(r); ok {
			t.Error("TokenFromRequest() should report absence")
		}
	})
}
