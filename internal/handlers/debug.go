package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"mindcare-realtime/internal/middleware"
	"mindcare-realtime/internal/telemetry"
)

type auditEmitter interface {
	Emit(ctx context.Context, rec telemetry.Record)
}

type groupCounter interface {
	Members(group string) int
}

// DebugDeps holds what the debug routes inspect. Either field may be nil.
type DebugDeps struct {
	Audit auditEmitter
	Hub   groupCounter
}

// RegisterDebugRoutes wires debug-only endpoints behind auth. They are never
// mounted in production.
func RegisterDebugRoutes(router gin.IRouter, authMiddleware gin.HandlerFunc, deps DebugDeps, enabled bool) {
	if !enabled {
		return
	}
	debug := router.Group("/debug", authMiddleware)

	debug.GET("/audit-test", func(c *gin.Context) {
		if deps.Audit == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		deps.Audit.Emit(c.Request.Context(), telemetry.Record{
			Level:     telemetry.LevelInfo,
			Action:    "audit_test",
			Text:      "audit test",
			RequestID: c.GetString(middleware.RequestIDKey),
			UserID:    middleware.CurrentUser(c).ID,
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Local session count of a broadcast group, e.g. conversation:12.
	debug.GET("/groups/:group", func(c *gin.Context) {
		if deps.Hub == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "hub not configured"})
			return
		}
		group := c.Param("group")
		c.JSON(http.StatusOK, gin.H{"group": group, "members": deps.Hub.Members(group)})
	})
}
