package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"mindcare-realtime/internal/chat"
	"mindcare-realtime/internal/models"
)

type ConversationServiceMock struct {
	mock.Mock
}

func (m *ConversationServiceMock) StartOneToOne(ctx context.Context, user models.User, otherID int64) (models.Conversation, bool, error) {
	args := m.Called(ctx, user, otherID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Bool(1), args.Error(2)
}

func (m *ConversationServiceMock) CreateGroup(ctx context.Context, user models.User, in chat.GroupInput) (models.Conversation, error) {
	args := m.Called(ctx, user, in)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationServiceMock) GetOrCreateChatbot(ctx context.Context, user models.User) (models.Conversation, bool, error) {
	args := m.Called(ctx, user)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Bool(1), args.Error(2)
}

func (m *ConversationServiceMock) AddGroupParticipant(ctx context.Context, actor models.User, conversationID int64, userID int64) (models.Conversation, error) {
	args := m.Called(ctx, actor, conversationID, userID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationServiceMock) RemoveGroupParticipant(ctx context.Context, actor models.User, conversationID int64, userID int64) error {
	args := m.Called(ctx, actor, conversationID, userID)
	return args.Error(0)
}

func (m *ConversationServiceMock) PinMessage(ctx context.Context, actor models.User, conversationID int64, messageID int64) (models.Conversation, error) {
	args := m.Called(ctx, actor, conversationID, messageID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationServiceMock) ListConversations(ctx context.Context, user models.User) ([]models.Conversation, error) {
	args := m.Called(ctx, user)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

func (m *ConversationServiceMock) ListMessages(ctx context.Context, user models.User, conversationID int64, beforeID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, user, conversationID, beforeID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *ConversationServiceMock) SendMessage(ctx context.Context, user models.User, conversationID int64, content string) (models.Message, error) {
	args := m.Called(ctx, user, conversationID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type MessageServiceMock struct {
	mock.Mock
}

func (m *MessageServiceMock) EditMessage(ctx context.Context, user models.User, messageID int64, content string) (models.Message, error) {
	args := m.Called(ctx, user, messageID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageServiceMock) DeleteMessage(ctx context.Context, user models.User, messageID int64) (models.Message, error) {
	args := m.Called(ctx, user, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageServiceMock) AddReaction(ctx context.Context, user models.User, messageID int64, reaction string) (models.Message, error) {
	args := m.Called(ctx, user, messageID, reaction)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageServiceMock) RemoveReaction(ctx context.Context, user models.User, messageID int64, reaction string) (models.Message, error) {
	args := m.Called(ctx, user, messageID, reaction)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageServiceMock) EditHistory(ctx context.Context, user models.User, messageID int64) (models.EditHistory, error) {
	args := m.Called(ctx, user, messageID)
	var history models.EditHistory
	if val := args.Get(0); val != nil {
		history = val.(models.EditHistory)
	}
	return history, args.Error(1)
}

func (m *MessageServiceMock) MarkRead(ctx context.Context, user models.User, messageID int64) error {
	args := m.Called(ctx, user, messageID)
	return args.Error(0)
}

type NotificationInboxMock struct {
	mock.Mock
}

func (m *NotificationInboxMock) List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error) {
	args := m.Called(ctx, userID, unreadOnly, limit)
	var items []models.Notification
	if val := args.Get(0); val != nil {
		items = val.([]models.Notification)
	}
	return items, args.Error(1)
}

func (m *NotificationInboxMock) UnreadCount(ctx context.Context, userID int64) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *NotificationInboxMock) MarkRead(ctx context.Context, userID int64, notificationID int64) error {
	args := m.Called(ctx, userID, notificationID)
	return args.Error(0)
}

func (m *NotificationInboxMock) MarkAllRead(ctx context.Context, userID int64) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}
