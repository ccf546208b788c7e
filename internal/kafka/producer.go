package kafka

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Producer writes domain events to one topic. The routing key becomes the
// message key so events of one kind land on one partition.
type Producer struct {
	writer *kafkago.Writer
	topic  string
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	}
	return &Producer{writer: w, topic: topic}
}

func (p *Producer) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := kafkago.Message{
		Key:     []byte(routingKey),
		Value:   b,
		Time:    time.Now(),
		Headers: toHeaders(headers),
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func toHeaders(headers map[string]string) []kafkago.Header {
	out := make([]kafkago.Header, 0, len(headers))
	for key, value := range headers {
		out = append(out, kafkago.Header{Key: key, Value: []byte(value)})
	}
	return out
}
