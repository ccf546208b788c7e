package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mindcare-realtime/internal/models"
	"mindcare-realtime/internal/repositories"
)

type stubValidator map[string]int64

func (s stubValidator) Validate(token string) (int64, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return 0, errors.New("bad token")
}

type stubUsers map[int64]models.User

func (s stubUsers) GetUser(_ context.Context, userID int64) (models.User, error) {
	if u, ok := s[userID]; ok {
		return u, nil
	}
	return models.User{}, repositories.ErrUserNotFound
}

func setupAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	validator := stubValidator{"good": 1, "ghost": 9}
	users := stubUsers{1: {ID: 1, Username: "alice", IsPremium: true}}
	r.GET("/me", AuthMiddleware(validator, users, zap.NewNop()), func(c *gin.Context) {
		user := CurrentUser(c)
		c.JSON(http.StatusOK, gin.H{"id": user.ID, "username": user.Username, "request_id": c.GetString(RequestIDKey)})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	router := setupAuthRouter()

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized, body: `{"error":"missing authorization"}`},
		{name: "malformed", header: "Token good", status: http.StatusUnauthorized, body: `{"error":"invalid authorization header"}`},
		{name: "invalid", header: "Bearer nope", status: http.StatusUnauthorized, body: `{"error":"invalid token"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestAuthMiddlewareLoadsUser(t *testing.T) {
	router := setupAuthRouter()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":1,"username":"alice","request_id":"req-1"}`, rec.Body.String())
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))
}

func TestAuthMiddlewareUnknownUserKeepsID(t *testing.T) {
	router := setupAuthRouter()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer ghost")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":9`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
