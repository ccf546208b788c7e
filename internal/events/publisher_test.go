package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mindcare-realtime/internal/models"
	"mindcare-realtime/internal/repositories"
)

type sent struct {
	group string
	event any
}

type fakeHub struct {
	sent  []sent
	err   error
	panic bool
}

func (f *fakeHub) Send(_ context.Context, group string, event any) (int, error) {
	if f.panic {
		panic("boom")
	}
	f.sent = append(f.sent, sent{group: group, event: event})
	return 1, f.err
}

type fakeBus struct {
	keys []string
	err  error
}

func (f *fakeBus) Publish(_ context.Context, routingKey string, _ any, _ map[string]string) error {
	f.keys = append(f.keys, routingKey)
	return f.err
}

func newStore() *repositories.MemoryStore {
	store := repositories.NewMemoryStore()
	store.PutUser(models.User{ID: 1, Username: "alice", DisplayName: "Alice A."})
	store.PutUser(models.User{ID: 2, Username: "bob"})
	return store
}

func TestMessageCreatedBroadcastsCanonicalEnvelope(t *testing.T) {
	hub := &fakeHub{}
	bus := &fakeBus{}
	p := NewPublisher(hub, newStore(), bus, zap.NewNop())
	sender := int64(1)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	p.MessageCreated(context.Background(), models.Message{
		ID: 9, ConversationID: 4, SenderID: &sender, Content: "hello", Kind: models.MessageText, CreatedAt: created,
	})

	require.Len(t, hub.sent, 1)
	assert.Equal(t, "conversation:4", hub.sent[0].group)

	raw, err := json.Marshal(hub.sent[0].event)
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "new_message", frame["type"])
	msg := frame["message"].(map[string]any)
	assert.Equal(t, "message_create", msg["event_type"])
	assert.Equal(t, "hello", msg["content"])
	assert.Equal(t, "Alice A.", msg["sender_display_name"])
	assert.Equal(t, float64(4), msg["conversation_id"])
	assert.Equal(t, "text", msg["message_kind"])
	assert.Equal(t, false, msg["is_edited"])
	assert.Equal(t, "2024-05-01T12:00:00Z", msg["timestamp"])

	assert.Equal(t, []string{"messages.message_create"}, bus.keys)
}

func TestSystemMessagesUseSystemSender(t *testing.T) {
	event := BuildMessageEvent(models.EventMessageCreate, models.Message{ID: 1, Kind: models.MessageSystem}, SystemSenderName, time.Now())
	assert.Nil(t, event.SenderID)
	assert.Equal(t, "System", event.SenderDisplayName)

	hub := &fakeHub{}
	NewPublisher(hub, newStore(), nil, zap.NewNop()).MessageCreated(context.Background(), models.Message{ID: 1, ConversationID: 2})
	out := hub.sent[0].event.(models.OutboundEvent)
	assert.Equal(t, "System", out.Message.SenderDisplayName)
}

func TestReactionChangedCarriesReactions(t *testing.T) {
	hub := &fakeHub{}
	p := NewPublisher(hub, newStore(), nil, zap.NewNop())
	sender := int64(2)

	p.ReactionChanged(context.Background(), models.Message{
		ID: 3, ConversationID: 1, SenderID: &sender,
		Reactions: models.Reactions{models.ReactionHeart: {5, 1}},
	})

	out := hub.sent[0].event.(models.OutboundEvent)
	assert.Equal(t, models.EventReactionChanged, out.Message.EventType)
	assert.Equal(t, []int64{1, 5}, out.Message.Reactions[models.ReactionHeart])
	assert.Equal(t, "bob", out.Message.SenderDisplayName)
}

func TestReadReceiptShape(t *testing.T) {
	hub := &fakeHub{}
	p := NewPublisher(hub, newStore(), nil, zap.NewNop())

	p.ReadReceipt(context.Background(), models.Message{ID: 8, ConversationID: 3}, models.User{ID: 2, Username: "bob"})

	require.Len(t, hub.sent, 1)
	assert.Equal(t, "conversation:3", hub.sent[0].group)
	raw, _ := json.Marshal(hub.sent[0].event)
	assert.JSONEq(t, `{"type":"read_receipt","conversation_id":3,"message_id":8,"user_id":2,"username":"bob"}`, string(raw))
}

func TestPublishFailuresAreSwallowed(t *testing.T) {
	hub := &fakeHub{err: errors.New("marshal")}
	bus := &fakeBus{err: errors.New("broker down")}
	p := NewPublisher(hub, newStore(), bus, zap.NewNop())

	assert.NotPanics(t, func() {
		p.MessageUpdated(context.Background(), models.Message{ID: 1, ConversationID: 1})
	})
	assert.Len(t, bus.keys, 1)

	p = NewPublisher(&fakeHub{panic: true}, newStore(), nil, zap.NewNop())
	assert.NotPanics(t, func() {
		p.MessageDeleted(context.Background(), models.Message{ID: 1, ConversationID: 1})
		p.ReadReceipt(context.Background(), models.Message{ID: 1, ConversationID: 1}, models.User{ID: 1})
	})
}
