package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"mindcare-realtime/internal/models"
)

// MemoryStore keeps every repository in process memory. It backs
// STORAGE=memory and the service tests. All writes are serialized by mu.
type MemoryStore struct {
	mu  sync.Mutex
	now func() time.Time

	nextID int64

	users         map[int64]models.User
	prefs         map[int64]models.NotificationPreferences
	conversations map[int64]*models.Conversation
	messages      map[int64]*models.Message
	edits         map[int64][]models.EditRecord
	types         map[string]models.NotificationType
	notifications map[int64]*models.Notification
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		users:         map[int64]models.User{},
		prefs:         map[int64]models.NotificationPreferences{},
		conversations: map[int64]*models.Conversation{},
		messages:      map[int64]*models.Message{},
		edits:         map[int64][]models.EditRecord{},
		types:         map[string]models.NotificationType{},
		notifications: map[int64]*models.Notification{},
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// PutUser adds or replaces a directory entry.
func (s *MemoryStore) PutUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// PutPreferences stores notification preferences for a user.
func (s *MemoryStore) PutPreferences(prefs models.NotificationPreferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prefs.DisabledTypes == nil {
		prefs.DisabledTypes = map[int64]bool{}
	}
	s.prefs[prefs.UserID] = prefs
}

// DisableType opts the user out of the named notification type, creating
// the type when needed.
func (s *MemoryStore) DisableType(userID int64, typeName string) {
	t, _ := s.GetOrCreateType(context.Background(), models.NotificationType{Name: typeName, DefaultEnabled: true, IsGlobal: true})

	s.mu.Lock()
	defer s.mu.Unlock()
	prefs, ok := s.prefs[userID]
	if !ok {
		prefs = models.DefaultPreferences(userID)
	}
	prefs.DisabledTypes[t.ID] = true
	s.prefs[userID] = prefs
}

// GetUser implements UserRepository.
func (s *MemoryStore) GetUser(_ context.Context, userID int64) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return user, nil
}

// GetPreferences implements PreferenceRepository.
func (s *MemoryStore) GetPreferences(_ context.Context, userID int64) (models.NotificationPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefs, ok := s.prefs[userID]
	if !ok {
		return models.DefaultPreferences(userID), nil
	}
	out := prefs
	out.DisabledTypes = make(map[int64]bool, len(prefs.DisabledTypes))
	for k, v := range prefs.DisabledTypes {
		out.DisabledTypes[k] = v
	}
	return out, nil
}

func cloneConversation(c *models.Conversation) models.Conversation {
	out := *c
	out.Participants = append([]int64{}, c.Participants...)
	out.Moderators = append([]int64(nil), c.Moderators...)
	return out
}

// GetOrCreateOneToOne implements ConversationRepository.
func (s *MemoryStore) GetOrCreateOneToOne(_ context.Context, userID int64, otherID int64) (models.Conversation, bool, error) {
	if userID == otherID {
		return models.Conversation{}, false, ErrSelfConversation
	}
	low, high := models.OrderedPair(userID, otherID)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		if conv.Kind == models.KindOneToOne && conv.Participants[0] == low && conv.Participants[1] == high {
			return cloneConversation(conv), false, nil
		}
	}
	now := s.now()
	conv := &models.Conversation{
		ID:           s.id(),
		Kind:         models.KindOneToOne,
		Participants: []int64{low, high},
		CreatedAt:    now,
		LastActivity: now,
	}
	s.conversations[conv.ID] = conv
	return cloneConversation(conv), true, nil
}

// CreateGroup implements ConversationRepository.
func (s *MemoryStore) CreateGroup(_ context.Context, ownerID int64, name, description string, isPrivate bool, participantIDs []int64) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[int64]bool{}
	participants := []int64{}
	for _, id := range participantIDs {
		if !seen[id] {
			seen[id] = true
			participants = append(participants, id)
		}
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })

	now := s.now()
	conv := &models.Conversation{
		ID:           s.id(),
		Kind:         models.KindGroup,
		Participants: participants,
		CreatedAt:    now,
		LastActivity: now,
		Name:         name,
		Description:  description,
		IsPrivate:    isPrivate,
		Moderators:   []int64{ownerID},
	}
	s.conversations[conv.ID] = conv
	return cloneConversation(conv), nil
}

// GetOrCreateChatbot implements ConversationRepository.
func (s *MemoryStore) GetOrCreateChatbot(_ context.Context, userID int64) (models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		if conv.Kind == models.KindChatbot && conv.OwnerID != nil && *conv.OwnerID == userID {
			return cloneConversation(conv), false, nil
		}
	}
	now := s.now()
	owner := userID
	conv := &models.Conversation{
		ID:           s.id(),
		Kind:         models.KindChatbot,
		Participants: []int64{userID},
		CreatedAt:    now,
		LastActivity: now,
		OwnerID:      &owner,
	}
	s.conversations[conv.ID] = conv
	return cloneConversation(conv), true, nil
}

// GetConversation implements ConversationRepository.
func (s *MemoryStore) GetConversation(_ context.Context, conversationID int64) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

// ListForUser implements ConversationRepository.
func (s *MemoryStore) ListForUser(_ context.Context, userID int64) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Conversation{}
	for _, conv := range s.conversations {
		if !conv.Archived && conv.HasParticipant(userID) {
			out = append(out, cloneConversation(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].ID > out[j].ID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

// CountGroupsForUser implements ConversationRepository.
func (s *MemoryStore) CountGroupsForUser(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, conv := range s.conversations {
		if conv.Kind == models.KindGroup && conv.HasParticipant(userID) {
			count++
		}
	}
	return count, nil
}

// AddParticipant implements ConversationRepository.
func (s *MemoryStore) AddParticipant(_ context.Context, conversationID int64, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	if conv.HasParticipant(userID) {
		return nil
	}
	conv.Participants = append(conv.Participants, userID)
	sort.Slice(conv.Participants, func(i, j int) bool { return conv.Participants[i] < conv.Participants[j] })
	return nil
}

// RemoveParticipant implements ConversationRepository.
func (s *MemoryStore) RemoveParticipant(_ context.Context, conversationID int64, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	conv.Participants = without(conv.Participants, userID)
	conv.Moderators = without(conv.Moderators, userID)
	return nil
}

func without(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// SetPinnedMessage implements ConversationRepository.
func (s *MemoryStore) SetPinnedMessage(_ context.Context, conversationID int64, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.Kind != models.KindGroup {
		return ErrConversationNotFound
	}
	pinned := messageID
	conv.PinnedMessageID = &pinned
	return nil
}

// IsOneToOneParticipant implements ConversationRepository.
func (s *MemoryStore) IsOneToOneParticipant(_ context.Context, conversationID int64, userID int64) (bool, error) {
	return s.hasMember(conversationID, models.KindOneToOne, userID), nil
}

// IsGroupParticipant implements ConversationRepository.
func (s *MemoryStore) IsGroupParticipant(_ context.Context, conversationID int64, userID int64) (bool, error) {
	return s.hasMember(conversationID, models.KindGroup, userID), nil
}

// IsChatbotOwner implements ConversationRepository.
func (s *MemoryStore) IsChatbotOwner(_ context.Context, conversationID int64, userID int64) (bool, error) {
	return s.hasMember(conversationID, models.KindChatbot, userID), nil
}

func (s *MemoryStore) hasMember(conversationID int64, kind models.ConversationKind, userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	return ok && conv.Kind == kind && conv.HasParticipant(userID)
}

func cloneMessage(m *models.Message) models.Message {
	out := *m
	out.Reactions = m.Reactions.Clone()
	out.ReadBy = append([]int64{}, m.ReadBy...)
	sort.Slice(out.ReadBy, func(i, j int) bool { return out.ReadBy[i] < out.ReadBy[j] })
	return out
}

// CreateMessage implements MessageRepository.
func (s *MemoryStore) CreateMessage(_ context.Context, conversationID int64, senderID *int64, content string, kind models.MessageKind) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Message{}, ErrConversationNotFound
	}
	now := s.now()
	msg := &models.Message{
		ID:             s.id(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Kind:           kind,
		CreatedAt:      now,
		Reactions:      models.Reactions{},
		ReadBy:         []int64{},
	}
	s.messages[msg.ID] = msg
	bumpActivity(conv, now)
	return cloneMessage(msg), nil
}

func bumpActivity(conv *models.Conversation, at time.Time) {
	if at.After(conv.LastActivity) {
		conv.LastActivity = at
	}
}

// GetMessage implements MessageRepository.
func (s *MemoryStore) GetMessage(_ context.Context, messageID int64) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return cloneMessage(msg), nil
}

// ListMessages implements MessageRepository.
func (s *MemoryStore) ListMessages(_ context.Context, conversationID int64, beforeID int64, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*models.Message
	for _, msg := range s.messages {
		if msg.ConversationID != conversationID {
			continue
		}
		if beforeID > 0 && msg.ID >= beforeID {
			continue
		}
		matched = append(matched, msg)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]models.Message, 0, len(matched))
	for i := len(matched) - 1; i >= 0; i-- {
		out = append(out, cloneMessage(matched[i]))
	}
	return out, nil
}

// UpdateContent implements MessageRepository.
func (s *MemoryStore) UpdateContent(_ context.Context, messageID int64, editorID int64, content string, at time.Time) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	if msg.Deleted {
		return models.Message{}, ErrMessageDeleted
	}
	s.edits[messageID] = append(s.edits[messageID], models.EditRecord{
		ID:              s.id(),
		MessageID:       messageID,
		PreviousContent: msg.Content,
		EditedAt:        at,
		EditedBy:        editorID,
	})
	editedAt, editor := at, editorID
	msg.Content = content
	msg.Edited = true
	msg.EditedAt = &editedAt
	msg.EditedBy = &editor
	if conv, ok := s.conversations[msg.ConversationID]; ok {
		bumpActivity(conv, at)
	}
	return cloneMessage(msg), nil
}

// SoftDelete implements MessageRepository.
func (s *MemoryStore) SoftDelete(_ context.Context, messageID int64, deleterID int64, at time.Time) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	if msg.Deleted {
		return models.Message{}, ErrMessageDeleted
	}
	deletedAt, deleter := at, deleterID
	msg.Deleted = true
	msg.DeletedAt = &deletedAt
	msg.DeletedBy = &deleter
	if conv, ok := s.conversations[msg.ConversationID]; ok {
		bumpActivity(conv, at)
	}
	return cloneMessage(msg), nil
}

// AddReaction implements MessageRepository.
func (s *MemoryStore) AddReaction(_ context.Context, messageID int64, userID int64, kind models.ReactionKind) (models.Reactions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, ErrMessageNotFound
	}
	if msg.Deleted {
		return msg.Reactions.Clone(), nil
	}
	for _, id := range msg.Reactions[kind] {
		if id == userID {
			return msg.Reactions.Clone(), nil
		}
	}
	msg.Reactions[kind] = append(msg.Reactions[kind], userID)
	return msg.Reactions.Clone(), nil
}

// RemoveReaction implements MessageRepository.
func (s *MemoryStore) RemoveReaction(_ context.Context, messageID int64, userID int64, kind models.ReactionKind) (models.Reactions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, ErrMessageNotFound
	}
	users := without(msg.Reactions[kind], userID)
	if len(users) == 0 {
		delete(msg.Reactions, kind)
	} else {
		msg.Reactions[kind] = users
	}
	return msg.Reactions.Clone(), nil
}

// MarkRead implements MessageRepository.
func (s *MemoryStore) MarkRead(_ context.Context, messageID int64, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return false, ErrMessageNotFound
	}
	for _, id := range msg.ReadBy {
		if id == userID {
			return false, nil
		}
	}
	msg.ReadBy = append(msg.ReadBy, userID)
	return true, nil
}

// EditHistory implements MessageRepository.
func (s *MemoryStore) EditHistory(_ context.Context, messageID int64) ([]models.EditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.edits[messageID]
	out := make([]models.EditRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

// GetOrCreateType implements NotificationRepository.
func (s *MemoryStore) GetOrCreateType(_ context.Context, t models.NotificationType) (models.NotificationType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.types[t.Name]; ok {
		return existing, nil
	}
	t.ID = s.id()
	s.types[t.Name] = t
	return t, nil
}

// CreateNotification implements NotificationRepository.
func (s *MemoryStore) CreateNotification(_ context.Context, n models.Notification) (models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = s.id()
	n.CreatedAt = s.now()
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}
	for name, t := range s.types {
		if t.ID == n.TypeID {
			n.TypeName = name
		}
	}
	stored := n
	s.notifications[n.ID] = &stored
	return n, nil
}

// ListNotifications implements NotificationRepository.
func (s *MemoryStore) ListNotifications(_ context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Notification{}
	for _, n := range s.notifications {
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UnreadCount implements NotificationRepository.
func (s *MemoryStore) UnreadCount(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

// MarkNotificationRead implements NotificationRepository.
func (s *MemoryStore) MarkNotificationRead(_ context.Context, userID int64, notificationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[notificationID]
	if !ok || n.UserID != userID {
		return ErrNotificationNotFound
	}
	n.IsRead = true
	return nil
}

// MarkAllRead implements NotificationRepository.
func (s *MemoryStore) MarkAllRead(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.notifications {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}
