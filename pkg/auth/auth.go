// Package auth validates operator tokens and resolves the acting principal
// recorded on audit entries, holds, and purge runs.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSecret is returned when no signing secret is configured.
	ErrNoSecret = errors.New("auth: token secret not configured")
	// ErrMalformedHeader is returned for a missing or non-Bearer header.
	ErrMalformedHeader = errors.New("auth: expected 'Bearer <token>'")
)

// Claims are the token claims expected by the custodian API.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Principal is the authenticated actor.
type Principal struct {
	UserID   string
	TenantID string
	Role     string
}

// Verifier validates HS256 operator tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier. An empty secret fails closed: every Parse
// returns ErrNoSecret.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return &Verifier{}
	}
	return &Verifier{secret: []byte(secret)}
}

// Parse validates a token string and returns the principal. Tokens must carry
// a subject and a tenant binding.
func (v *Verifier) Parse(tokenStr string) (Principal, error) {
	if len(v.secret) == 0 {
		return Principal{}, ErrNoSecret
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("auth: token validation failed: %w", err)
	}
	if !token.Valid {
		return Principal{}, errors.New("auth: invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("auth: token subject is required")
	}
	if claims.TenantID == "" {
		return Principal{}, errors.New("auth: token tenant binding is required")
	}

	return Principal{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Role:     claims.Role,
	}, nil
}

// ParseBearer strips the Bearer scheme and validates the remainder.
func (v *Verifier) ParseBearer(header string) (Principal, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return Principal{}, ErrMalformedHeader
	}
	return v.Parse(parts[1])
}
