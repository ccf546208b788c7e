package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"mindcare-realtime/internal/telemetry"
)

// ErrNacked is returned when the broker refuses a confirmed publish.
var ErrNacked = errors.New("rabbitmq: publish nacked by broker")

// Publisher publishes JSON events to a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// NewPublisher connects to RabbitMQ. When the URL is empty or the broker is
// unreachable it returns a noop publisher so the service still starts.
func NewPublisher(amqpURL, exchange string, log *zap.Logger) Publisher {
	if amqpURL == "" {
		log.Info("rabbitmq disabled, using noop", zap.String("reason", "empty amqp url"))
		return noopPublisher{reason: "empty amqp url", log: log}
	}
	p, err := Dial(amqpURL, exchange, log)
	if err != nil {
		log.Warn("rabbitmq disabled, using noop", zap.Error(err))
		return noopPublisher{reason: err.Error(), log: log}
	}
	return p
}

// AMQPPublisher publishes persistent messages in confirm mode.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

// Dial opens a channel in confirm mode and declares the durable topic exchange.
func Dial(amqpURL, exchange string, log *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}

	log.Info("rabbitmq connected", zap.String("exchange", exchange))
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	msg, err := buildMessage(event, headers)
	if err != nil {
		return err
	}

	// The channel is shared; confirms are matched to publishes in order.
	p.mu.Lock()
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		p.log.Warn("rabbitmq publish failed", zap.String("routing_key", routingKey), zap.Error(err))
		return err
	}
	if confirm == nil {
		return nil
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		p.log.Warn("rabbitmq publish nacked", zap.String("routing_key", routingKey))
		return ErrNacked
	}
	return nil
}

func buildMessage(event any, headers map[string]string) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	table := amqp.Table{}
	for key, value := range headers {
		table[key] = value
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         eventType(event),
		Timestamp:    time.Now(),
		Headers:      table,
		Body:         body,
	}, nil
}

func eventType(event any) string {
	switch e := event.(type) {
	case telemetry.AuditEnvelope:
		return e.EventType
	case *telemetry.AuditEnvelope:
		return e.EventType
	default:
		return ""
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
	log    *zap.Logger
}

func (p noopPublisher) Publish(_ context.Context, routingKey string, event any, _ map[string]string) error {
	p.log.Debug("rabbitmq noop publish", zap.String("routing_key", routingKey), zap.String("event_type", eventType(event)))
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// NewNoopPublisher returns a publisher that only logs.
func NewNoopPublisher(log *zap.Logger) Publisher {
	return noopPublisher{reason: "disabled", log: log}
}

// Describe reports the publisher mode and, for noop publishers, why.
func Describe(p Publisher) (mode, reason string) {
	switch publisher := p.(type) {
	case *AMQPPublisher:
		return "amqp", ""
	case noopPublisher:
		return "noop", publisher.reason
	default:
		return fmt.Sprintf("%T", p), ""
	}
}
