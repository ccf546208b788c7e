package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mindcare-realtime/internal/middleware"
	"mindcare-realtime/internal/models"
)

type messageService interface {
	EditMessage(ctx context.Context, user models.User, messageID int64, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, user models.User, messageID int64) (models.Message, error)
	AddReaction(ctx context.Context, user models.User, messageID int64, reaction string) (models.Message, error)
	RemoveReaction(ctx context.Context, user models.User, messageID int64, reaction string) (models.Message, error)
	EditHistory(ctx context.Context, user models.User, messageID int64) (models.EditHistory, error)
	MarkRead(ctx context.Context, user models.User, messageID int64) error
}

// MessageHandler serves per-message endpoints.
type MessageHandler struct {
	service messageService
	log     *zap.Logger
}

func NewMessageHandler(service messageService, log *zap.Logger) *MessageHandler {
	return &MessageHandler{service: service, log: log}
}

// Edit replaces the content of the caller's message.
func (h *MessageHandler) Edit(c *gin.Context) {
	messageID, ok := pathID(c, "message_id", "message")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.service.EditMessage(c.Request.Context(), middleware.CurrentUser(c), messageID, req.Content)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// Delete soft-deletes a message.
func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, ok := pathID(c, "message_id", "message")
	if !ok {
		return
	}

	msg, err := h.service.DeleteMessage(c.Request.Context(), middleware.CurrentUser(c), messageID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// AddReaction adds the caller's reaction.
func (h *MessageHandler) AddReaction(c *gin.Context) {
	messageID, ok := pathID(c, "message_id", "message")
	if !ok {
		return
	}
	var req struct {
		Reaction string `json:"reaction" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.service.AddReaction(c.Request.Context(), middleware.CurrentUser(c), messageID, req.Reaction)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": msg.ID, "reactions": msg.Reactions})
}

// RemoveReaction removes the caller's reaction.
func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	messageID, ok := pathID(c, "message_id", "message")
	if !ok {
		return
	}

	msg, err := h.service.RemoveReaction(c.Request.Context(), middleware.CurrentUser(c), messageID, c.Param("reaction"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": msg.ID, "reactions": msg.Reactions})
}

// History returns the edit history of a message.
func (h *MessageHandler) History(c *gin.Context) {
	messageID, ok := pathID(c, "message_id", "message")
	if !ok {
		return
	}

	history, err := h.service.EditHistory(c.Request.Context(), middleware.CurrentUser(c), messageID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// MarkRead records that the caller read a message.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	messageID, ok := pathID(c, "message_id", "message")
	if !ok {
		return
	}

	if err := h.service.MarkRead(c.Request.Context(), middleware.CurrentUser(c), messageID); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
