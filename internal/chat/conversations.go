package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"mindcare-realtime/internal/apperr"
	"mindcare-realtime/internal/models"
	"mindcare-realtime/internal/repositories"
	"mindcare-realtime/internal/telemetry"
)

const maxGroupNameLength = 100

// GroupInput is the payload for creating a group conversation.
type GroupInput struct {
	Name           string
	Description    string
	IsPrivate      bool
	ParticipantIDs []int64
}

// StartOneToOne returns the conversation between user and otherID, creating
// it on first use. The bool reports creation.
func (s *Service) StartOneToOne(ctx context.Context, user models.User, otherID int64) (models.Conversation, bool, error) {
	if otherID <= 0 {
		return models.Conversation{}, false, apperr.Validation("participant_id is required")
	}
	if otherID == user.ID {
		return models.Conversation{}, false, apperr.Validation("Cannot create a conversation with yourself")
	}
	if _, err := s.lookupUser(ctx, otherID); err != nil {
		return models.Conversation{}, false, err
	}

	conv, created, err := s.conversations.GetOrCreateOneToOne(ctx, user.ID, otherID)
	if err != nil {
		return models.Conversation{}, false, apperr.Persistence("create conversation", err)
	}
	if created {
		s.log.Info("one-to-one conversation created", zap.Int64("conversation_id", conv.ID), zap.Int64("user_id", user.ID))
	}
	return conv, created, nil
}

// CreateGroup creates a group owned and moderated by user. The owner is
// always a participant.
func (s *Service) CreateGroup(ctx context.Context, user models.User, in GroupInput) (models.Conversation, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Conversation{}, apperr.Validation("Group name is required")
	}
	if utf8.RuneCountInString(name) > maxGroupNameLength {
		return models.Conversation{}, apperr.Validation(fmt.Sprintf("Group name cannot exceed %d characters", maxGroupNameLength))
	}

	seen := map[int64]bool{user.ID: true}
	participants := []int64{user.ID}
	for _, id := range in.ParticipantIDs {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		participants = append(participants, id)
	}
	if len(participants) < 2 {
		return models.Conversation{}, apperr.Validation("A group needs at least 2 participants")
	}
	if len(participants) > s.opts.MaxGroupParticipants {
		return models.Conversation{}, apperr.Validation(fmt.Sprintf("A group cannot have more than %d participants", s.opts.MaxGroupParticipants))
	}
	for _, id := range participants[1:] {
		if _, err := s.lookupUser(ctx, id); err != nil {
			return models.Conversation{}, err
		}
	}

	count, err := s.conversations.CountGroupsForUser(ctx, user.ID)
	if err != nil {
		return models.Conversation{}, apperr.Persistence("count groups", err)
	}
	if count >= s.opts.MaxGroupsPerUser {
		return models.Conversation{}, apperr.Validation(fmt.Sprintf("Maximum group limit (%d) reached", s.opts.MaxGroupsPerUser))
	}

	sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })
	conv, err := s.conversations.CreateGroup(ctx, user.ID, name, strings.TrimSpace(in.Description), in.IsPrivate, participants)
	if err != nil {
		return models.Conversation{}, apperr.Persistence("create group", err)
	}
	s.log.Info("group conversation created",
		zap.Int64("conversation_id", conv.ID),
		zap.Int64("user_id", user.ID),
		zap.Int("participants", len(participants)),
	)
	return conv, nil
}

// GetOrCreateChatbot returns the user's chatbot conversation.
func (s *Service) GetOrCreateChatbot(ctx context.Context, user models.User) (models.Conversation, bool, error) {
	conv, created, err := s.conversations.GetOrCreateChatbot(ctx, user.ID)
	if err != nil {
		return models.Conversation{}, false, apperr.Persistence("create chatbot conversation", err)
	}
	return conv, created, nil
}

func (s *Service) loadGroup(ctx context.Context, conversationID int64) (models.Conversation, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if conv.Kind != models.KindGroup {
		return models.Conversation{}, apperr.NotFound("group conversation not found")
	}
	return conv, nil
}

// AddGroupParticipant adds userID to a group. Only moderators may add.
// Adding an existing participant succeeds without change.
func (s *Service) AddGroupParticipant(ctx context.Context, actor models.User, conversationID int64, userID int64) (models.Conversation, error) {
	conv, err := s.loadGroup(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.IsModerator(actor.ID) {
		return models.Conversation{}, apperr.Forbidden("Only moderators can add participants")
	}
	if conv.HasParticipant(userID) {
		return conv, nil
	}
	if len(conv.Participants) >= s.opts.MaxGroupParticipants {
		return models.Conversation{}, apperr.Validation("Maximum participant limit reached")
	}
	if _, err := s.lookupUser(ctx, userID); err != nil {
		return models.Conversation{}, err
	}

	if err := s.conversations.AddParticipant(ctx, conversationID, userID); err != nil {
		return models.Conversation{}, apperr.Persistence("add participant", err)
	}
	s.log.Info("group participant added", zap.Int64("conversation_id", conversationID), zap.Int64("user_id", userID), zap.Int64("by", actor.ID))
	return s.loadConversation(ctx, conversationID)
}

// RemoveGroupParticipant removes userID from a group and closes their open
// sessions on it. Moderators may remove anyone; participants may remove
// themselves. The last moderator must stay.
func (s *Service) RemoveGroupParticipant(ctx context.Context, actor models.User, conversationID int64, userID int64) error {
	conv, err := s.loadGroup(ctx, conversationID)
	if err != nil {
		return err
	}
	if actor.ID != userID && !conv.IsModerator(actor.ID) {
		return apperr.Forbidden("Only moderators can remove other participants")
	}
	if !conv.HasParticipant(userID) {
		return apperr.NotFound("user is not a participant")
	}
	if len(conv.Participants) <= 2 {
		return apperr.Validation("A group needs at least 2 participants")
	}
	if conv.IsModerator(userID) && len(conv.Moderators) == 1 {
		return apperr.Validation("The last moderator cannot leave the group")
	}

	if err := s.conversations.RemoveParticipant(ctx, conversationID, userID); err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			return apperr.NotFound("conversation not found")
		}
		return apperr.Persistence("remove participant", err)
	}
	s.members.Invalidate(userID, conversationID)
	if s.sessions != nil {
		s.sessions.EvictParticipant(ctx, conversationID, userID)
	}
	s.log.Info("group participant removed", zap.Int64("conversation_id", conversationID), zap.Int64("user_id", userID), zap.Int64("by", actor.ID))
	if actor.ID != userID {
		s.emit(ctx, telemetry.Record{
			Level:          telemetry.LevelInfo,
			Action:         "participant_removed",
			Text:           fmt.Sprintf("user %d removed", userID),
			UserID:         actor.ID,
			ConversationID: conversationID,
		})
	}
	return nil
}

// PinMessage pins a live message of the group. Only moderators may pin.
func (s *Service) PinMessage(ctx context.Context, actor models.User, conversationID int64, messageID int64) (models.Conversation, error) {
	conv, err := s.loadGroup(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.IsModerator(actor.ID) {
		return models.Conversation{}, apperr.Forbidden("Only moderators can pin messages")
	}
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return models.Conversation{}, err
	}
	if msg.ConversationID != conversationID {
		return models.Conversation{}, apperr.Validation("Message does not belong to this conversation")
	}
	if msg.Deleted {
		return models.Conversation{}, apperr.Validation("Deleted messages cannot be pinned")
	}

	if err := s.conversations.SetPinnedMessage(ctx, conversationID, messageID); err != nil {
		return models.Conversation{}, apperr.Persistence("pin message", err)
	}
	return s.loadConversation(ctx, conversationID)
}

// ListConversations returns the user's conversations, most recently active first.
func (s *Service) ListConversations(ctx context.Context, user models.User) ([]models.Conversation, error) {
	convs, err := s.conversations.ListForUser(ctx, user.ID)
	if err != nil {
		return nil, apperr.Persistence("list conversations", err)
	}
	return convs, nil
}
