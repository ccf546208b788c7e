package models

import "time"

// Priority of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// NotificationType describes a category of notification.
type NotificationType struct {
	ID             int64  `db:"id" json:"id"`
	Name           string `db:"name" json:"name"`
	Description    string `db:"description" json:"description"`
	DefaultEnabled bool   `db:"default_enabled" json:"default_enabled"`
	IsGlobal       bool   `db:"is_global" json:"is_global"`
}

// SourceKind names the entity a notification points at.
type SourceKind string

const SourceMessage SourceKind = "message"

// SourceRef links a notification to the entity that triggered it.
type SourceRef struct {
	Kind SourceKind `json:"kind"`
	ID   int64      `json:"id"`
}

// Notification is a message addressed to one user.
type Notification struct {
	ID        int64          `db:"id" json:"id"`
	UserID    int64          `db:"user_id" json:"user_id"`
	TypeID    int64          `db:"type_id" json:"type_id"`
	TypeName  string         `db:"type_name" json:"type"`
	Title     string         `db:"title" json:"title"`
	Message   string         `db:"message" json:"message"`
	IsRead    bool           `db:"is_read" json:"is_read"`
	Priority  Priority       `db:"priority" json:"priority"`
	Metadata  map[string]any `db:"-" json:"metadata"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	Source    *SourceRef     `db:"-" json:"source,omitempty"`
}

// NotificationPreferences are the per-user delivery switches.
type NotificationPreferences struct {
	UserID        int64
	InApp         bool
	Email         bool
	DisabledTypes map[int64]bool
}

// DefaultPreferences applies when a user never stored any.
func DefaultPreferences(userID int64) NotificationPreferences {
	return NotificationPreferences{UserID: userID, InApp: true, Email: true, DisabledTypes: map[int64]bool{}}
}

// IsTypeEnabled reports whether the user accepts notifications of type t.
// Only global types can be switched off per user.
func (p NotificationPreferences) IsTypeEnabled(t NotificationType) bool {
	if !t.DefaultEnabled {
		return false
	}
	if !t.IsGlobal {
		return true
	}
	return !p.DisabledTypes[t.ID]
}
