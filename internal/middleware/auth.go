package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mindcare-realtime/internal/auth"
	"mindcare-realtime/internal/models"
	"mindcare-realtime/internal/repositories"
)

// Context keys set by the middlewares.
const (
	UserIDKey    = "userID"
	UserKey      = "user"
	RequestIDKey = "request_id"
)

type TokenValidator interface {
	Validate(token string) (int64, error)
}

type UserDirectory interface {
	GetUser(ctx context.Context, userID int64) (models.User, error)
}

// AuthMiddleware validates the bearer JWT and loads the caller into the
// context. Users missing from the directory proceed with only their id.
func AuthMiddleware(validator TokenValidator, users UserDirectory, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ParseBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			msg := "invalid authorization header"
			if errors.Is(err, auth.ErrNoCredential) {
				msg = "missing authorization"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		userID, err := validator.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		user, err := users.GetUser(c.Request.Context(), userID)
		if err != nil {
			if !errors.Is(err, repositories.ErrUserNotFound) {
				log.Warn("user lookup failed", zap.Int64("user_id", userID), zap.Error(err))
			}
			user = models.User{ID: userID}
		}

		c.Set(UserIDKey, userID)
		c.Set(UserKey, user)
		c.Next()
	}
}

// CurrentUser returns the caller loaded by AuthMiddleware.
func CurrentUser(c *gin.Context) models.User {
	if val, ok := c.Get(UserKey); ok {
		if user, ok := val.(models.User); ok {
			return user
		}
	}
	return models.User{ID: c.GetInt64(UserIDKey)}
}
