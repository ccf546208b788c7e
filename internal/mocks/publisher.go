package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// BusMock stands in for the AMQP or Kafka event bus.
type BusMock struct {
	mock.Mock
}

func (m *BusMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func (m *BusMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// RoutingKeys lists the routing keys of every Publish call in order.
func (m *BusMock) RoutingKeys() []string {
	var keys []string
	for _, call := range m.Calls {
		if call.Method == "Publish" {
			keys = append(keys, call.Arguments.String(1))
		}
	}
	return keys
}
