package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mindcare-realtime/internal/models"
	"mindcare-realtime/internal/observability"
	"mindcare-realtime/internal/ws"
)

// SystemSenderName is shown for messages without a human sender.
const SystemSenderName = "System"

// Broadcaster fans an event out to a group.
type Broadcaster interface {
	Send(ctx context.Context, group string, event any) (int, error)
}

type UserDirectory interface {
	GetUser(ctx context.Context, userID int64) (models.User, error)
}

// Bus receives a copy of every message event for other services.
type Bus interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// Publisher turns completed message writes into broadcasts. Its methods never
// return errors: a failed publish must not fail the write that caused it.
type Publisher struct {
	hub   Broadcaster
	users UserDirectory
	bus   Bus
	log   *zap.Logger
	now   func() time.Time
}

// NewPublisher builds a Publisher. bus may be nil.
func NewPublisher(hub Broadcaster, users UserDirectory, bus Bus, log *zap.Logger) *Publisher {
	return &Publisher{hub: hub, users: users, bus: bus, log: log, now: time.Now}
}

// BuildMessageEvent is the canonical envelope for a message change.
func BuildMessageEvent(eventType string, msg models.Message, senderName string, at time.Time) models.MessageEvent {
	event := models.MessageEvent{
		EventType:         eventType,
		MessageID:         msg.ID,
		ConversationID:    msg.ConversationID,
		SenderID:          msg.SenderID,
		SenderDisplayName: senderName,
		Content:           msg.Content,
		Timestamp:         at.UTC(),
		MessageKind:       msg.Kind,
		IsEdited:          msg.Edited,
		IsDeleted:         msg.Deleted,
	}
	if eventType == models.EventReactionChanged {
		event.Reactions = msg.Reactions.Clone()
	}
	return event
}

// MessageCreated publishes message_create.
func (p *Publisher) MessageCreated(ctx context.Context, msg models.Message) {
	p.publishMessage(ctx, models.EventMessageCreate, msg, msg.CreatedAt)
}

// MessageUpdated publishes message_update.
func (p *Publisher) MessageUpdated(ctx context.Context, msg models.Message) {
	p.publishMessage(ctx, models.EventMessageUpdate, msg, p.now())
}

// MessageDeleted publishes message_deleted.
func (p *Publisher) MessageDeleted(ctx context.Context, msg models.Message) {
	p.publishMessage(ctx, models.EventMessageDeleted, msg, p.now())
}

// ReactionChanged publishes reaction_changed with the full reaction map.
func (p *Publisher) ReactionChanged(ctx context.Context, msg models.Message) {
	p.publishMessage(ctx, models.EventReactionChanged, msg, p.now())
}

// ReadReceipt tells the message's conversation that reader has read it.
func (p *Publisher) ReadReceipt(ctx context.Context, msg models.Message, reader models.User) {
	defer p.recover("read_receipt")

	event := models.OutboundEvent{
		Type:           models.OutboundReadReceipt,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		UserID:         reader.ID,
		Username:       reader.Username,
	}
	if _, err := p.hub.Send(ctx, ws.ConversationGroup(msg.ConversationID), event); err != nil {
		p.fail("broadcast", models.EventReadReceipt, msg, err)
	}
	p.mirror(ctx, models.EventReadReceipt, map[string]any{
		"event_type":      models.EventReadReceipt,
		"message_id":      msg.ID,
		"conversation_id": msg.ConversationID,
		"user_id":         reader.ID,
		"timestamp":       p.now().UTC(),
	})
}

func (p *Publisher) publishMessage(ctx context.Context, eventType string, msg models.Message, at time.Time) {
	defer p.recover(eventType)

	event := BuildMessageEvent(eventType, msg, p.senderName(ctx, msg.SenderID), at)
	out := models.OutboundEvent{Type: models.OutboundNewMessage, Message: &event}
	delivered, err := p.hub.Send(ctx, ws.ConversationGroup(msg.ConversationID), out)
	if err != nil {
		p.fail("broadcast", eventType, msg, err)
	} else {
		p.log.Debug("message event published",
			zap.String("event_type", eventType),
			zap.Int64("message_id", msg.ID),
			zap.Int("delivered", delivered),
		)
	}
	p.mirror(ctx, eventType, event)
}

func (p *Publisher) senderName(ctx context.Context, senderID *int64) string {
	if senderID == nil {
		return SystemSenderName
	}
	user, err := p.users.GetUser(ctx, *senderID)
	if err != nil {
		p.log.Debug("sender lookup failed", zap.Int64("sender_id", *senderID), zap.Error(err))
		return fmt.Sprintf("user %d", *senderID)
	}
	return user.Name()
}

func (p *Publisher) mirror(ctx context.Context, eventType string, payload any) {
	if p.bus == nil {
		return
	}
	envelope := observability.NewEnvelope("message_events", eventType, payload)
	headers := observability.BuildHeaders("", observability.TraceIDFromContext(ctx))
	if err := p.bus.Publish(ctx, "messages."+eventType, envelope, headers); err != nil {
		observability.IncPublishError("bus")
		p.log.Warn("event bus publish failed", zap.String("event_type", eventType), zap.Error(err))
	}
}

func (p *Publisher) fail(stage, eventType string, msg models.Message, err error) {
	observability.IncPublishError(stage)
	p.log.Error("message event publish failed",
		zap.String("event_type", eventType),
		zap.Int64("message_id", msg.ID),
		zap.Int64("conversation_id", msg.ConversationID),
		zap.Error(err),
	)
}

func (p *Publisher) recover(eventType string) {
	if r := recover(); r != nil {
		observability.IncPublishError("broadcast")
		p.log.Error("message event publish panicked", zap.String("event_type", eventType), zap.Error(errors.New(fmt.Sprint(r))))
	}
}
