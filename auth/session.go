// Package auth coordinates the identity provider round trip: verifying
// provider session tokens and driving the post-callback user sync flow.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid session token")

// Claims is the verified content of a provider session token. Subject carries
// the external auth id.
type Claims struct {
	jwt.RegisteredClaims
}

// SessionVerifier validates provider session tokens.
type SessionVerifier struct {
	secret []byte
}

func NewSessionVerifier(secret string) *SessionVerifier {
	return &SessionVerifier{secret: []byte(secret)}
}

// Verify parses and validates a session token, returning its claims.
func (v *SessionVerifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenFromRequest extracts the session token from the Authorization header
// or the provider's session cookie.
func TokenFromRequest(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer "), true
		}
		return h, true
	}
	if c, err := r.Cookie("__session"); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}
