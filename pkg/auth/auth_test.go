package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "t1",
		Role:     "compliance_officer",
	}
}

func TestParseValidToken(t *testing.T) {
	v := NewVerifier(testSecret)
	p, err := v.Parse(signToken(t, testSecret, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "u-1", TenantID: "t1", Role: "compliance_officer"}, p)
}

func TestParseFailures(t *testing.T) {
	v := NewVerifier(testSecret)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := v.Parse(signToken(t, "other-secret", validClaims()))
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		c := validClaims()
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		_, err := v.Parse(signToken(t, testSecret, c))
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		c := validClaims()
		c.Subject = ""
		_, err := v.Parse(signToken(t, testSecret, c))
		assert.Error(t, err)
	})

	t.Run("missing tenant binding", func(t *testing.T) {
		c := validClaims()
		c.TenantID = ""
		_, err := v.Parse(signToken(t, testSecret, c))
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Parse("not.a.token")
		assert.Error(t, err)
	})
}

func TestNoSecretFailsClosed(t *testing.T) {
	v := NewVerifier("")
	_, err := v.Parse(signToken(t, testSecret, validClaims()))
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestParseBearer(t *testing.T) {
	v := NewVerifier(testSecret)
	token := signToken(t, testSecret, validClaims())

	p, err := v.ParseBearer("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", p.UserID)

	_, err = v.ParseBearer(token)
	assert.ErrorIs(t, err, ErrMalformedHeader)

	_, err = v.ParseBearer("Basic dXNlcjpwYXNz")
	assert.ErrorIs(t, err, ErrMalformedHeader)
}
