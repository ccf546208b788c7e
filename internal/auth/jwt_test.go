package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestAuthenticateValidToken(t *testing.T) {
	a := NewAuthenticator(secret)
	token := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
		"user_id": 42,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	assert.Equal(t, Identity{UserID: 42}, a.Authenticate(token))
}

func TestAuthenticateNumericStringUserID(t *testing.T) {
	a := NewAuthenticator(secret)
	token := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
		"user_id": "7",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	assert.Equal(t, int64(7), a.Authenticate(token).UserID)
}

func TestAuthenticateFailuresAreAnonymous(t *testing.T) {
	a := NewAuthenticator(secret)
	cases := map[string]string{
		"empty":   "",
		"garbage": "not-a-jwt",
		"expired": sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
			"user_id": 1,
			"exp":     time.Now().Add(-time.Minute).Unix(),
		}),
		"no expiry": sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
			"user_id": 1,
		}),
		"wrong secret": sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{
			"user_id": 1,
			"exp":     time.Now().Add(time.Hour).Unix(),
		}),
		"wrong algorithm": sign(t, jwt.SigningMethodHS512, []byte(secret), jwt.MapClaims{
			"user_id": 1,
			"exp":     time.Now().Add(time.Hour).Unix(),
		}),
		"missing user": sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}),
		"negative user": sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
			"user_id": -3,
			"exp":     time.Now().Add(time.Hour).Unix(),
		}),
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, AnonymousIdentity, a.Authenticate(token))
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws/conversations/1?token=query-token", nil)
	assert.Equal(t, "query-token", TokenFromRequest(req))

	req.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", TokenFromRequest(req))

	req = httptest.NewRequest("GET", "/ws/conversations/1", nil)
	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", TokenFromRequest(req))
}
