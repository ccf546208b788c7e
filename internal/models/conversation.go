package models

import "time"

// ConversationKind tells the three conversation variants apart.
type ConversationKind string

const (
	KindOneToOne ConversationKind = "one_to_one"
	KindGroup    ConversationKind = "group"
	KindChatbot  ConversationKind = "chatbot"
)

// Conversation is a chat between participants. Group-only and chatbot-only
// fields are zero for the other kinds.
type Conversation struct {
	ID           int64            `db:"id" json:"id"`
	Kind         ConversationKind `db:"kind" json:"kind"`
	Participants []int64          `db:"-" json:"participants"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	LastActivity time.Time        `db:"last_activity" json:"last_activity"`
	Archived     bool             `db:"archived" json:"archived"`

	Name            string  `db:"name" json:"name,omitempty"`
	Description     string  `db:"description" json:"description,omitempty"`
	IsPrivate       bool    `db:"is_private" json:"is_private,omitempty"`
	Moderators      []int64 `db:"-" json:"moderators,omitempty"`
	PinnedMessageID *int64  `db:"pinned_message_id" json:"pinned_message_id,omitempty"`

	OwnerID *int64 `db:"owner_id" json:"owner_id,omitempty"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID int64) bool {
	if c.Kind == KindChatbot {
		return c.OwnerID != nil && *c.OwnerID == userID
	}
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// IsModerator reports whether userID moderates a group conversation.
func (c Conversation) IsModerator(userID int64) bool {
	for _, id := range c.Moderators {
		if id == userID {
			return true
		}
	}
	return false
}

// OrderedPair returns the two ids low first, the storage key of a one-to-one chat.
func OrderedPair(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}
