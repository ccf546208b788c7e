package models

import "time"

// Event types carried in MessageEvent.EventType.
const (
	EventMessageCreate   = "message_create"
	EventMessageUpdate   = "message_update"
	EventMessageDeleted  = "message_deleted"
	EventReadReceipt     = "read_receipt"
	EventReactionChanged = "reaction_changed"
)

// Outbound envelope types.
const (
	OutboundNewMessage            = "new_message"
	OutboundReadReceipt           = "read_receipt"
	OutboundConnectionEstablished = "connection_established"
	OutboundTyping                = "typing"
	OutboundNotification          = "notification"
)

// MessageEvent is the canonical payload describing a message change.
type MessageEvent struct {
	EventType         string      `json:"event_type"`
	MessageID         int64       `json:"message_id"`
	ConversationID    int64       `json:"conversation_id"`
	SenderID          *int64      `json:"sender_id"`
	SenderDisplayName string      `json:"sender_display_name"`
	Content           string      `json:"content"`
	Timestamp         time.Time   `json:"timestamp"`
	MessageKind       MessageKind `json:"message_kind"`
	IsEdited          bool        `json:"is_edited"`
	IsDeleted         bool        `json:"is_deleted,omitempty"`
	Reactions         Reactions   `json:"reactions,omitempty"`
}

// NotificationEvent is pushed to a user's notification group.
type NotificationEvent struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Priority  Priority       `json:"priority"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// OutboundEvent is every frame the server writes to a websocket.
type OutboundEvent struct {
	Type           string             `json:"type"`
	Message        *MessageEvent      `json:"message,omitempty"`
	Notification   *NotificationEvent `json:"notification,omitempty"`
	ConversationID int64              `json:"conversation_id,omitempty"`
	MessageID      int64              `json:"message_id,omitempty"`
	UserID         int64              `json:"user_id,omitempty"`
	Username       string             `json:"username,omitempty"`
	IsTyping       *bool              `json:"is_typing,omitempty"`
	Detail         string             `json:"detail,omitempty"`
}

// Inbound event types.
const (
	InboundMarkRead = "mark_read"
	InboundTyping   = "typing"
)

// InboundEvent is a frame a client sends on a conversation socket.
type InboundEvent struct {
	Type      string `json:"type" validate:"required,max=32"`
	MessageID int64  `json:"message_id" validate:"gte=0"`
	IsTyping  *bool  `json:"is_typing"`
}
