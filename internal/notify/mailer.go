package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"mindcare-realtime/internal/observability"
)

// EmailRoutingKey is where email hand-offs are published for the mail worker.
const EmailRoutingKey = "notifications.email"

// EmailMessage is the hand-off payload consumed by the mail worker.
type EmailMessage struct {
	NotificationID int64          `json:"notification_id"`
	UserID         int64          `json:"user_id"`
	To             string         `json:"to"`
	Subject        string         `json:"subject"`
	Body           string         `json:"body"`
	Type           string         `json:"type"`
	Priority       string         `json:"priority"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Queue accepts email hand-offs.
type Queue interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// Mailer hands emails to the queue in the background behind a circuit
// breaker, so a broker outage costs one timeout per breaker interval at most.
type Mailer struct {
	queue   Queue
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewMailer(queue Queue, log *zap.Logger) *Mailer {
	st := gobreaker.Settings{
		Name:        "email-handoff",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Mailer{
		queue:   queue,
		breaker: gobreaker.NewCircuitBreaker(st),
		timeout: 5 * time.Second,
		log:     log,
	}
}

// Enqueue schedules the hand-off and returns immediately.
func (m *Mailer) Enqueue(ctx context.Context, msg EmailMessage) {
	ctx = context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.deliver(ctx, msg); err != nil {
			observability.IncPublishError("email")
			m.log.Warn("email hand-off failed",
				zap.Int64("notification_id", msg.NotificationID),
				zap.Int64("user_id", msg.UserID),
				zap.Error(err),
			)
		}
	}()
}

func (m *Mailer) deliver(ctx context.Context, msg EmailMessage) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	_, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, m.queue.Publish(ctx, EmailRoutingKey, msg, observability.BuildHeaders("", observability.TraceIDFromContext(ctx)))
	})
	return err
}

// Wait blocks until every pending hand-off finished.
func (m *Mailer) Wait() {
	m.wg.Wait()
}
