package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"mindcare-realtime/internal/apperr"
	"mindcare-realtime/internal/models"
	"mindcare-realtime/internal/notify"
	"mindcare-realtime/internal/ratelimit"
	"mindcare-realtime/internal/repositories"
	"mindcare-realtime/internal/telemetry"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// scopeFor returns the rate-limit scope of sending into a conversation kind.
func scopeFor(kind models.ConversationKind) ratelimit.Scope {
	switch kind {
	case models.KindGroup:
		return ratelimit.ScopeGroupMessage
	case models.KindOneToOne:
		return ratelimit.ScopeOneToOneMessage
	case models.KindChatbot:
		return ratelimit.ScopeChatbot
	default:
		return ratelimit.ScopeMessageDefault
	}
}

// ListMessages returns up to limit messages older than beforeID (0 for the
// newest), oldest first.
func (s *Service) ListMessages(ctx context.Context, user models.User, conversationID int64, beforeID int64, limit int) ([]models.Message, error) {
	if _, err := s.loadConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, user.ID, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	msgs, err := s.messages.ListMessages(ctx, conversationID, beforeID, limit)
	if err != nil {
		return nil, apperr.Persistence("list messages", err)
	}
	return msgs, nil
}

// SendMessage stores a text message from user and broadcasts it. Other
// participants get a new_message notification.
func (s *Service) SendMessage(ctx context.Context, user models.User, conversationID int64, content string) (models.Message, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	if err := s.requireMember(ctx, user.ID, conversationID); err != nil {
		return models.Message{}, err
	}
	content, err = s.normalizeContent(content)
	if err != nil {
		return models.Message{}, err
	}
	if err := s.limiter.Allow(ctx, user, scopeFor(conv.Kind)); err != nil {
		return models.Message{}, err
	}
	if err := s.limiter.Allow(ctx, user, ratelimit.ScopeBurstMessage); err != nil {
		return models.Message{}, err
	}

	senderID := user.ID
	msg, err := s.messages.CreateMessage(ctx, conversationID, &senderID, content, models.MessageText)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			return models.Message{}, apperr.NotFound("conversation not found")
		}
		return models.Message{}, apperr.Persistence("create message", err)
	}
	s.log.Debug("message stored", zap.Int64("message_id", msg.ID), zap.Int64("conversation_id", conversationID))

	s.publisher.MessageCreated(ctx, msg)
	s.notifyRecipients(ctx, conv, user, msg)
	return msg, nil
}

func (s *Service) notifyRecipients(ctx context.Context, conv models.Conversation, sender models.User, msg models.Message) {
	if conv.Kind == models.KindChatbot {
		return
	}
	title := fmt.Sprintf("New message from %s", sender.Name())
	if conv.Kind == models.KindGroup {
		title = fmt.Sprintf("New message in %s", conv.Name)
	}
	for _, recipient := range conv.Participants {
		if recipient == sender.ID {
			continue
		}
		s.notifier.Send(ctx, notify.SendRequest{
			UserID:   recipient,
			TypeName: "new_message",
			Title:    title,
			Message:  preview(msg.Content),
			Priority: models.PriorityMedium,
			Metadata: map[string]any{
				"message_id":      msg.ID,
				"conversation_id": conv.ID,
				"sender_id":       sender.ID,
			},
			Source:    &models.SourceRef{Kind: models.SourceMessage, ID: msg.ID},
			SendInApp: true,
		})
	}
}

// EditMessage replaces the content of the user's own message within the
// edit window and records the previous version.
func (s *Service) EditMessage(ctx context.Context, user models.User, messageID int64, content string) (models.Message, error) {
	if err := s.limiter.Allow(ctx, user, ratelimit.ScopeMessageDefault); err != nil {
		return models.Message{}, err
	}
	msg, err := s.loadMessageForMember(ctx, user.ID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if !msg.IsFromUser(user.ID) {
		return models.Message{}, apperr.Forbidden("You can only edit your own messages")
	}
	if msg.Deleted {
		return models.Message{}, apperr.Validation("Deleted messages cannot be edited")
	}
	now := s.now()
	if now.Sub(msg.CreatedAt) > s.opts.EditWindow {
		return models.Message{}, apperr.Validation(fmt.Sprintf("Messages can only be edited within %s", s.opts.EditWindow))
	}
	content, err = s.normalizeContent(content)
	if err != nil {
		return models.Message{}, err
	}

	updated, err := s.messages.UpdateContent(ctx, messageID, user.ID, content, now)
	if errors.Is(err, repositories.ErrMessageDeleted) {
		return models.Message{}, apperr.Validation("Deleted messages cannot be edited")
	}
	if err != nil {
		return models.Message{}, apperr.Persistence("edit message", err)
	}
	s.publisher.MessageUpdated(ctx, updated)
	return updated, nil
}

// DeleteMessage soft-deletes a message. The sender and group moderators may
// delete.
func (s *Service) DeleteMessage(ctx context.Context, user models.User, messageID int64) (models.Message, error) {
	msg, err := s.loadMessageForMember(ctx, user.ID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	byModerator := false
	if !msg.IsFromUser(user.ID) {
		conv, err := s.loadConversation(ctx, msg.ConversationID)
		if err != nil {
			return models.Message{}, err
		}
		if conv.Kind != models.KindGroup || !conv.IsModerator(user.ID) {
			return models.Message{}, apperr.Forbidden("You can only delete your own messages")
		}
		byModerator = true
	}

	deleted, err := s.messages.SoftDelete(ctx, messageID, user.ID, s.now())
	if errors.Is(err, repositories.ErrMessageDeleted) {
		return models.Message{}, apperr.Validation("Message is already deleted")
	}
	if err != nil {
		return models.Message{}, apperr.Persistence("delete message", err)
	}
	if byModerator {
		s.emit(ctx, telemetry.Record{
			Level:          telemetry.LevelInfo,
			Action:         "message_moderated",
			Text:           "message deleted by a group moderator",
			UserID:         user.ID,
			ConversationID: msg.ConversationID,
			MessageID:      messageID,
		})
	}
	s.publisher.MessageDeleted(ctx, deleted)
	return deleted, nil
}

func parseReaction(raw string) (models.ReactionKind, error) {
	kind := models.ReactionKind(raw)
	if !kind.Valid() {
		return "", apperr.Validation(fmt.Sprintf("Invalid reaction %q, expected one of %v", raw, models.ReactionKinds))
	}
	return kind, nil
}

func sameReactions(a, b models.Reactions) bool {
	for kind, users := range a {
		if !slices.Equal(users, b[kind]) {
			return false
		}
	}
	for kind, users := range b {
		if len(a[kind]) == 0 && len(users) > 0 {
			return false
		}
	}
	return true
}

// AddReaction records user's reaction and tells the sender about it.
// Reacting twice with the same kind changes nothing.
func (s *Service) AddReaction(ctx context.Context, user models.User, messageID int64, reaction string) (models.Message, error) {
	kind, err := parseReaction(reaction)
	if err != nil {
		return models.Message{}, err
	}
	msg, err := s.loadMessageForMember(ctx, user.ID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.Deleted {
		return models.Message{}, apperr.Validation("Cannot react to a deleted message")
	}

	reactions, err := s.messages.AddReaction(ctx, messageID, user.ID, kind)
	if err != nil {
		return models.Message{}, apperr.Persistence("add reaction", err)
	}
	msg.Reactions = reactions
	s.publisher.ReactionChanged(ctx, msg)

	if msg.SenderID != nil && *msg.SenderID != user.ID {
		s.notifier.Send(ctx, notify.SendRequest{
			UserID:   *msg.SenderID,
			TypeName: "message_reaction",
			Title:    "New Reaction",
			Message:  fmt.Sprintf("%s reacted to your message", user.Name()),
			Priority: models.PriorityLow,
			Metadata: map[string]any{
				"message_id":      msg.ID,
				"conversation_id": msg.ConversationID,
				"reactor_id":      user.ID,
				"reaction_type":   string(kind),
				"message_preview": preview(msg.Content),
			},
			Source:    &models.SourceRef{Kind: models.SourceMessage, ID: msg.ID},
			SendInApp: true,
		})
	}
	return msg, nil
}

// RemoveReaction drops user's reaction. Removing a reaction that is not
// there succeeds.
func (s *Service) RemoveReaction(ctx context.Context, user models.User, messageID int64, reaction string) (models.Message, error) {
	kind, err := parseReaction(reaction)
	if err != nil {
		return models.Message{}, err
	}
	msg, err := s.loadMessageForMember(ctx, user.ID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	reactions, err := s.messages.RemoveReaction(ctx, messageID, user.ID, kind)
	if err != nil {
		return models.Message{}, apperr.Persistence("remove reaction", err)
	}
	changed := !sameReactions(msg.Reactions, reactions)
	msg.Reactions = reactions
	if changed {
		s.publisher.ReactionChanged(ctx, msg)
	}
	return msg, nil
}

// EditHistory returns the message with its previous versions, newest first.
func (s *Service) EditHistory(ctx context.Context, user models.User, messageID int64) (models.EditHistory, error) {
	msg, err := s.loadMessageForMember(ctx, user.ID, messageID)
	if err != nil {
		return models.EditHistory{}, err
	}
	records, err := s.messages.EditHistory(ctx, messageID)
	if err != nil {
		return models.EditHistory{}, apperr.Persistence("load edit history", err)
	}
	return models.EditHistory{
		MessageID: msg.ID,
		Content:   msg.Content,
		EditedAt:  msg.EditedAt,
		EditedBy:  msg.EditedBy,
		History:   records,
	}, nil
}

// MarkRead records that user read the message and broadcasts a read receipt
// the first time.
func (s *Service) MarkRead(ctx context.Context, user models.User, messageID int64) error {
	msg, err := s.loadMessageForMember(ctx, user.ID, messageID)
	if err != nil {
		return err
	}
	newly, err := s.messages.MarkRead(ctx, messageID, user.ID)
	if err != nil {
		return apperr.Persistence("mark message read", err)
	}
	if newly {
		s.publisher.ReadReceipt(ctx, msg, user)
	}
	return nil
}
