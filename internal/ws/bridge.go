package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type bridgeEnvelope struct {
	Origin  string          `json:"origin"`
	Group   string          `json:"group"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Evict   *evictNotice    `json:"evict,omitempty"`
}

type evictNotice struct {
	UserID int64  `json:"user_id"`
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// EvictHook observes an eviction reported by another instance.
type EvictHook func(group string, userID int64)

// RedisBridge mirrors hub broadcasts over one Redis pub/sub channel. A
// single channel keeps the publish order of each origin intact.
type RedisBridge struct {
	client  redis.UniversalClient
	channel string
	origin  string
	onEvict []EvictHook
	log     *zap.Logger
}

func NewRedisBridge(client redis.UniversalClient, prefix string, log *zap.Logger) *RedisBridge {
	return &RedisBridge{
		client:  client,
		channel: prefix + ":broadcast",
		origin:  uuid.NewString(),
		log:     log,
	}
}

// Origin identifies this instance in relayed envelopes.
func (b *RedisBridge) Origin() string { return b.origin }

// OnEvict registers fn for evictions relayed from other instances, so
// per-instance state such as membership caches can be dropped. Call before Run.
func (b *RedisBridge) OnEvict(fn EvictHook) {
	b.onEvict = append(b.onEvict, fn)
}

func (b *RedisBridge) Publish(ctx context.Context, group string, payload []byte) error {
	return b.publish(ctx, bridgeEnvelope{Origin: b.origin, Group: group, Payload: payload})
}

// PublishEviction tells the other instances to evict userID from group.
func (b *RedisBridge) PublishEviction(ctx context.Context, group string, userID int64, code int, reason string) error {
	return b.publish(ctx, bridgeEnvelope{
		Origin: b.origin,
		Group:  group,
		Evict:  &evictNotice{UserID: userID, Code: code, Reason: reason},
	})
}

func (b *RedisBridge) publish(ctx context.Context, env bridgeEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, body).Err()
}

// Run delivers broadcasts from other instances into hub until ctx ends.
func (b *RedisBridge) Run(ctx context.Context, hub *Hub) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	b.log.Info("broadcast bridge subscribed", zap.String("channel", b.channel), zap.String("origin", b.origin))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errors.New("broadcast bridge channel closed")
			}
			b.relay(hub, msg.Payload)
		}
	}
}

func (b *RedisBridge) relay(hub *Hub, raw string) {
	var env bridgeEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.log.Warn("dropping malformed bridge message", zap.Error(err))
		return
	}
	if env.Origin == b.origin || env.Group == "" {
		return
	}
	if env.Evict != nil {
		hub.evictLocal(env.Group, env.Evict.UserID, env.Evict.Code, env.Evict.Reason)
		for _, fn := range b.onEvict {
			fn(env.Group, env.Evict.UserID)
		}
		return
	}
	hub.deliverLocal(env.Group, env.Payload)
}
