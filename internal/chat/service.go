package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"mindcare-realtime/internal/apperr"
	"mindcare-realtime/internal/models"
	"mindcare-realtime/internal/notify"
	"mindcare-realtime/internal/ratelimit"
	"mindcare-realtime/internal/repositories"
	"mindcare-realtime/internal/telemetry"
)

type UserDirectory interface {
	GetUser(ctx context.Context, userID int64) (models.User, error)
}

// MembershipChecker answers and forgets membership questions.
type MembershipChecker interface {
	IsMember(ctx context.Context, userID int64, conversationID int64) bool
	Invalidate(userID int64, conversationID int64)
}

type RateLimiter interface {
	Allow(ctx context.Context, user models.User, scope ratelimit.Scope) error
}

// EventPublisher broadcasts completed writes. It never fails the write.
type EventPublisher interface {
	MessageCreated(ctx context.Context, msg models.Message)
	MessageUpdated(ctx context.Context, msg models.Message)
	MessageDeleted(ctx context.Context, msg models.Message)
	ReactionChanged(ctx context.Context, msg models.Message)
	ReadReceipt(ctx context.Context, msg models.Message, reader models.User)
}

type Notifier interface {
	Send(ctx context.Context, req notify.SendRequest) *models.Notification
}

// SessionEvictor closes a user's live sessions on a conversation they no
// longer belong to.
type SessionEvictor interface {
	EvictParticipant(ctx context.Context, conversationID int64, userID int64) int
}

type Auditor interface {
	Emit(ctx context.Context, rec telemetry.Record)
}

// Options bound user input.
type Options struct {
	EditWindow           time.Duration
	MaxMessageLength     int
	MaxGroupParticipants int
	MaxGroupsPerUser     int
}

// Deps wires a Service. Sessions and Audit may be nil.
type Deps struct {
	Conversations repositories.ConversationRepository
	Messages      repositories.MessageRepository
	Users         UserDirectory
	Members       MembershipChecker
	Limiter       RateLimiter
	Publisher     EventPublisher
	Notifier      Notifier
	Sessions      SessionEvictor
	Audit         Auditor
	Options       Options
	Log           *zap.Logger
}

// Service runs every mutating chat operation: rate limit, validate, write,
// then publish and notify.
type Service struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	users         UserDirectory
	members       MembershipChecker
	limiter       RateLimiter
	publisher     EventPublisher
	notifier      Notifier
	sessions      SessionEvictor
	audit         Auditor
	opts          Options
	log           *zap.Logger
	now           func() time.Time
}

func NewService(deps Deps) *Service {
	opts := deps.Options
	if opts.EditWindow <= 0 {
		opts.EditWindow = time.Hour
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 5000
	}
	if opts.MaxGroupParticipants < 2 {
		opts.MaxGroupParticipants = 50
	}
	if opts.MaxGroupsPerUser <= 0 {
		opts.MaxGroupsPerUser = 10
	}
	return &Service{
		conversations: deps.Conversations,
		messages:      deps.Messages,
		users:         deps.Users,
		members:       deps.Members,
		limiter:       deps.Limiter,
		publisher:     deps.Publisher,
		notifier:      deps.Notifier,
		sessions:      deps.Sessions,
		audit:         deps.Audit,
		opts:          opts,
		log:           deps.Log,
		now:           time.Now,
	}
}

// normalizeContent trims content and enforces the length bounds.
func (s *Service) normalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperr.Validation("Message content cannot be empty")
	}
	if utf8.RuneCountInString(content) > s.opts.MaxMessageLength {
		return "", apperr.Validation(fmt.Sprintf("Message cannot exceed %d characters", s.opts.MaxMessageLength))
	}
	return content, nil
}

func (s *Service) loadConversation(ctx context.Context, conversationID int64) (models.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return models.Conversation{}, apperr.Persistence("load conversation", err)
	}
	return conv, nil
}

func (s *Service) loadMessage(ctx context.Context, messageID int64) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, apperr.NotFound("message not found")
	}
	if err != nil {
		return models.Message{}, apperr.Persistence("load message", err)
	}
	return msg, nil
}

// requireMember fails with ErrForbidden unless user belongs to the conversation.
func (s *Service) requireMember(ctx context.Context, userID int64, conversationID int64) error {
	if !s.members.IsMember(ctx, userID, conversationID) {
		return apperr.Forbidden("You are not a participant in this conversation")
	}
	return nil
}

// loadMessageForMember loads a message the user is allowed to see.
func (s *Service) loadMessageForMember(ctx context.Context, userID int64, messageID int64) (models.Message, error) {
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if err := s.requireMember(ctx, userID, msg.ConversationID); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (s *Service) lookupUser(ctx context.Context, userID int64) (models.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.User{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return models.User{}, apperr.Persistence("load user", err)
	}
	return user, nil
}

func (s *Service) emit(ctx context.Context, rec telemetry.Record) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, rec)
}

func preview(content string) string {
	const limit = 100
	if utf8.RuneCountInString(content) <= limit {
		return content
	}
	return string([]rune(content)[:limit])
}
