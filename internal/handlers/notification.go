package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mindcare-realtime/internal/middleware"
	"mindcare-realtime/internal/models"
)

type notificationInbox interface {
	List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	MarkRead(ctx context.Context, userID int64, notificationID int64) error
	MarkAllRead(ctx context.Context, userID int64) (int, error)
}

// NotificationHandler serves the caller's notification inbox.
type NotificationHandler struct {
	inbox notificationInbox
	log   *zap.Logger
}

func NewNotificationHandler(inbox notificationInbox, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{inbox: inbox, log: log}
}

// List returns notifications, newest first. ?unread=true filters to unread.
func (h *NotificationHandler) List(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	unreadOnly := c.Query("unread") == "true"

	items, err := h.inbox.List(c.Request.Context(), middleware.CurrentUser(c).ID, unreadOnly, int(limit))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

// Count returns the number of unread notifications.
func (h *NotificationHandler) Count(c *gin.Context) {
	count, err := h.inbox.UnreadCount(c.Request.Context(), middleware.CurrentUser(c).ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

// MarkRead marks one notification read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	notificationID, ok := pathID(c, "notification_id", "notification")
	if !ok {
		return
	}

	if err := h.inbox.MarkRead(c.Request.Context(), middleware.CurrentUser(c).ID, notificationID); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllRead marks every unread notification read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	marked, err := h.inbox.MarkAllRead(c.Request.Context(), middleware.CurrentUser(c).ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}
