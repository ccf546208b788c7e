package models

import (
	"sort"
	"time"
)

// MessageKind classifies who produced a message.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageSystem MessageKind = "system"
	MessageBot    MessageKind = "bot"
)

// ReactionKind is one of the fixed reaction emoji.
type ReactionKind string

const (
	ReactionLike     ReactionKind = "like"
	ReactionHeart    ReactionKind = "heart"
	ReactionSmile    ReactionKind = "smile"
	ReactionThumbsUp ReactionKind = "thumbsup"
)

// ReactionKinds lists the accepted reactions.
var ReactionKinds = []ReactionKind{ReactionLike, ReactionHeart, ReactionSmile, ReactionThumbsUp}

// Valid reports whether k is an accepted reaction.
func (k ReactionKind) Valid() bool {
	for _, known := range ReactionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Reactions maps a reaction kind to the users who chose it. Empty kinds are
// never stored.
type Reactions map[ReactionKind][]int64

// Clone returns a deep copy with user ids sorted.
func (r Reactions) Clone() Reactions {
	out := make(Reactions, len(r))
	for kind, users := range r {
		cp := append([]int64(nil), users...)
		sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
		out[kind] = cp
	}
	return out
}

// Message is a chat message in any conversation kind.
type Message struct {
	ID             int64       `db:"id" json:"id"`
	ConversationID int64       `db:"conversation_id" json:"conversation_id"`
	SenderID       *int64      `db:"sender_id" json:"sender_id"`
	Content        string      `db:"content" json:"content"`
	Kind           MessageKind `db:"message_kind" json:"message_kind"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`

	Edited   bool       `db:"edited" json:"edited"`
	EditedAt *time.Time `db:"edited_at" json:"edited_at,omitempty"`
	EditedBy *int64     `db:"edited_by" json:"edited_by,omitempty"`

	Deleted   bool       `db:"deleted" json:"deleted"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	DeletedBy *int64     `db:"deleted_by" json:"deleted_by,omitempty"`

	Reactions Reactions `db:"-" json:"reactions"`
	ReadBy    []int64   `db:"-" json:"read_by"`
}

// IsFromUser reports whether userID sent the message.
func (m Message) IsFromUser(userID int64) bool {
	return m.SenderID != nil && *m.SenderID == userID
}

// EditRecord is one entry of a message's append-only edit history.
type EditRecord struct {
	ID              int64     `db:"id" json:"id"`
	MessageID       int64     `db:"message_id" json:"message_id"`
	PreviousContent string    `db:"previous_content" json:"previous_content"`
	EditedAt        time.Time `db:"edited_at" json:"edited_at"`
	EditedBy        int64     `db:"edited_by" json:"edited_by"`
}

// EditHistory is the current state of a message plus its past versions,
// newest first.
type EditHistory struct {
	MessageID int64        `json:"message_id"`
	Content   string       `json:"content"`
	EditedAt  *time.Time   `json:"edited_at,omitempty"`
	EditedBy  *int64       `json:"edited_by,omitempty"`
	History   []EditRecord `json:"history"`
}
