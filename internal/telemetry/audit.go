package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// Audit levels. Each level is published under its own routing key.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Record is one auditable action. Zero ids are omitted.
type Record struct {
	Level          string
	Action         string
	Text           string
	RequestID      string
	UserID         int64
	ConversationID int64
	MessageID      int64
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    time.Time    `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id,omitempty"`
	TraceID       string       `json:"trace_id,omitempty"`
	UserID        *int64       `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level          string `json:"level"`
	Action         string `json:"action"`
	Text           string `json:"text"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	MessageID      int64  `json:"message_id,omitempty"`
}

// AuditEmitter publishes moderation, rejection and abuse records to the bus.
type AuditEmitter struct {
	publisher   Publisher
	prefix      string
	service     string
	environment string
	log         *zap.Logger
	now         func() time.Time
}

// NewAuditEmitter builds an emitter publishing under prefix.<level>.
func NewAuditEmitter(publisher Publisher, prefix, service, environment string, log *zap.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		prefix:      prefix,
		service:     service,
		environment: environment,
		log:         log,
		now:         time.Now,
	}
}

// RoutingKey is where records of level are published.
func (e *AuditEmitter) RoutingKey(level string) string {
	if level == "" {
		level = LevelInfo
	}
	return e.prefix + "." + level
}

func (e *AuditEmitter) envelope(ctx context.Context, rec Record) AuditEnvelope {
	env := AuditEnvelope{
		SchemaVersion: 2,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC(),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		Payload: AuditPayload{
			Level:          rec.Level,
			Action:         rec.Action,
			Text:           rec.Text,
			ConversationID: rec.ConversationID,
			MessageID:      rec.MessageID,
		},
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	if rec.UserID != 0 {
		id := rec.UserID
		env.UserID = &id
	}
	return env
}

// Emit publishes rec. Failures are logged and swallowed; a nil emitter is a no-op.
func (e *AuditEmitter) Emit(ctx context.Context, rec Record) {
	if e == nil || e.publisher == nil {
		return
	}
	env := e.envelope(ctx, rec)

	headers := map[string]string{"x-audit-action": rec.Action}
	if rec.RequestID != "" {
		headers["x-request-id"] = rec.RequestID
	}
	if env.TraceID != "" {
		headers["trace_id"] = env.TraceID
	}
	if err := e.publisher.Publish(ctx, e.RoutingKey(rec.Level), env, headers); err != nil {
		e.log.Warn("audit publish failed", zap.String("action", rec.Action), zap.Int64("user_id", rec.UserID), zap.Error(err))
	}
}
