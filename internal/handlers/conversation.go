package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mindcare-realtime/internal/chat"
	"mindcare-realtime/internal/middleware"
	"mindcare-realtime/internal/models"
)

type conversationService interface {
	StartOneToOne(ctx context.Context, user models.User, otherID int64) (models.Conversation, bool, error)
	CreateGroup(ctx context.Context, user models.User, in chat.GroupInput) (models.Conversation, error)
	GetOrCreateChatbot(ctx context.Context, user models.User) (models.Conversation, bool, error)
	AddGroupParticipant(ctx context.Context, actor models.User, conversationID int64, userID int64) (models.Conversation, error)
	RemoveGroupParticipant(ctx context.Context, actor models.User, conversationID int64, userID int64) error
	PinMessage(ctx context.Context, actor models.User, conversationID int64, messageID int64) (models.Conversation, error)
	ListConversations(ctx context.Context, user models.User) ([]models.Conversation, error)
	ListMessages(ctx context.Context, user models.User, conversationID int64, beforeID int64, limit int) ([]models.Message, error)
	SendMessage(ctx context.Context, user models.User, conversationID int64, content string) (models.Message, error)
}

// ConversationHandler serves conversation endpoints.
type ConversationHandler struct {
	service conversationService
	log     *zap.Logger
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(service conversationService, log *zap.Logger) *ConversationHandler {
	return &ConversationHandler{service: service, log: log}
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

// StartOneToOne gets or creates the caller's conversation with another user.
func (h *ConversationHandler) StartOneToOne(c *gin.Context) {
	var req struct {
		ParticipantID int64 `json:"participant_id" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, created, err := h.service.StartOneToOne(c.Request.Context(), middleware.CurrentUser(c), req.ParticipantID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(createdStatus(created), gin.H{"conversation": conv, "created": created})
}

// CreateGroup creates a group conversation moderated by the caller.
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name           string  `json:"name" binding:"required"`
		Description    string  `json:"description"`
		IsPrivate      bool    `json:"is_private"`
		ParticipantIDs []int64 `json:"participant_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.service.CreateGroup(c.Request.Context(), middleware.CurrentUser(c), chat.GroupInput{
		Name:           req.Name,
		Description:    req.Description,
		IsPrivate:      req.IsPrivate,
		ParticipantIDs: req.ParticipantIDs,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

// StartChatbot gets or creates the caller's chatbot conversation.
func (h *ConversationHandler) StartChatbot(c *gin.Context) {
	conv, created, err := h.service.GetOrCreateChatbot(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(createdStatus(created), gin.H{"conversation": conv, "created": created})
}

// AddParticipant adds a user to a group.
func (h *ConversationHandler) AddParticipant(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation_id", "conversation")
	if !ok {
		return
	}
	var req struct {
		UserID int64 `json:"user_id" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.service.AddGroupParticipant(c.Request.Context(), middleware.CurrentUser(c), conversationID, req.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// RemoveParticipant removes a user from a group.
func (h *ConversationHandler) RemoveParticipant(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation_id", "conversation")
	if !ok {
		return
	}
	userID, ok := pathID(c, "user_id", "user")
	if !ok {
		return
	}

	if err := h.service.RemoveGroupParticipant(c.Request.Context(), middleware.CurrentUser(c), conversationID, userID); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PinMessage pins a message in a group.
func (h *ConversationHandler) PinMessage(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation_id", "conversation")
	if !ok {
		return
	}
	var req struct {
		MessageID int64 `json:"message_id" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.service.PinMessage(c.Request.Context(), middleware.CurrentUser(c), conversationID, req.MessageID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// ListConversations returns the caller's conversations.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	convs, err := h.service.ListConversations(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// ListMessages returns a page of a conversation's messages.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation_id", "conversation")
	if !ok {
		return
	}
	before, ok := queryInt(c, "before")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	msgs, err := h.service.ListMessages(c.Request.Context(), middleware.CurrentUser(c), conversationID, before, int(limit))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// SendMessage posts a message to a conversation.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation_id", "conversation")
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

	msg, err := h.service.SendMessage(c.Request.Context(), middleware.CurrentUser(c), conversationID, req.Content)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}
