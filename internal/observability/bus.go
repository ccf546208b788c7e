package observability

import (
	"context"
)

// Publisher delivers a JSON-encodable event to a routing key. Both the AMQP
// and the Kafka producers satisfy it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

var defaultPublisher Publisher

// SetPublisher installs the process-wide publisher for lifecycle events.
func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

// PublishEvent sends a lifecycle event through the default publisher. It is a
// no-op until SetPublisher is called.
func PublishEvent(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.Publish(ctx, routingKey, event, headers)
	if err != nil {
		IncPublishError("bus")
	}
	return err
}
