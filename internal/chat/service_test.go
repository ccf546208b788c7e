package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mindcare-realtime/internal/apperr"
	"mindcare-realtime/internal/membership"
	"mindcare-realtime/internal/models"
	"mindcare-realtime/internal/notify"
	"mindcare-realtime/internal/ratelimit"
	"mindcare-realtime/internal/repositories"
)

type published struct {
	kind string
	msg  models.Message
	user models.User
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingPublisher) record(kind string, msg models.Message, user models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{kind: kind, msg: msg, user: user})
}

func (r *recordingPublisher) MessageCreated(_ context.Context, msg models.Message) {
	r.record(models.EventMessageCreate, msg, models.User{})
}

func (r *recordingPublisher) MessageUpdated(_ context.Context, msg models.Message) {
	r.record(models.EventMessageUpdate, msg, models.User{})
}

func (r *recordingPublisher) MessageDeleted(_ context.Context, msg models.Message) {
	r.record(models.EventMessageDeleted, msg, models.User{})
}

func (r *recordingPublisher) ReactionChanged(_ context.Context, msg models.Message) {
	r.record(models.EventReactionChanged, msg, models.User{})
}

func (r *recordingPublisher) ReadReceipt(_ context.Context, msg models.Message, reader models.User) {
	r.record(models.EventReadReceipt, msg, reader)
}

func (r *recordingPublisher) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.kind)
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	reqs []notify.SendRequest
}

func (r *recordingNotifier) Send(_ context.Context, req notify.SendRequest) *models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return &models.Notification{UserID: req.UserID, TypeName: req.TypeName}
}

func (r *recordingNotifier) requests() []notify.SendRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.SendRequest(nil), r.reqs...)
}

type eviction struct {
	conversationID int64
	userID         int64
}

type recordingEvictor struct {
	mu        sync.Mutex
	evictions []eviction
}

func (r *recordingEvictor) EvictParticipant(_ context.Context, conversationID int64, userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictions = append(r.evictions, eviction{conversationID: conversationID, userID: userID})
	return 1
}

func (r *recordingEvictor) all() []eviction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eviction(nil), r.evictions...)
}

var (
	alice = models.User{ID: 1, Username: "alice", DisplayName: "Alice"}
	bob   = models.User{ID: 2, Username: "bob"}
	carol = models.User{ID: 3, Username: "carol"}
	staff = models.User{ID: 4, Username: "therapist", IsStaff: true}
)

type fixture struct {
	svc       *Service
	store     *repositories.MemoryStore
	publisher *recordingPublisher
	notifier  *recordingNotifier
	sessions  *recordingEvictor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repositories.NewMemoryStore()
	for _, u := range []models.User{alice, bob, carol, staff} {
		store.PutUser(u)
	}
	rates, err := ratelimit.ParseRates(map[string]string{
		"message_default":    "60/minute",
		"group_message":      "10/minute",
		"one_to_one_message": "200/hour",
		"chatbot":            "30/minute",
		"burst_message":      "10/minute",
	})
	require.NoError(t, err)

	f := &fixture{store: store, publisher: &recordingPublisher{}, notifier: &recordingNotifier{}, sessions: &recordingEvictor{}}
	f.svc = NewService(Deps{
		Conversations: store,
		Messages:      store,
		Users:         store,
		Members:       membership.NewResolver(store, 128, time.Minute, zap.NewNop()),
		Limiter:       ratelimit.NewLimiter(ratelimit.NewMemoryStore(), rates, nil, zap.NewNop()),
		Publisher:     f.publisher,
		Notifier:      f.notifier,
		Sessions:      f.sessions,
		Options:       Options{EditWindow: time.Hour, MaxMessageLength: 50, MaxGroupParticipants: 4, MaxGroupsPerUser: 2},
		Log:           zap.NewNop(),
	})
	return f
}

func TestStartOneToOneIsUniquePerPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.svc.StartOneToOne(ctx, alice, bob.ID)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.svc.StartOneToOne(ctx, bob, alice.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = f.svc.StartOneToOne(ctx, alice, alice.ID)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, _, err = f.svc.StartOneToOne(ctx, alice, 404)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestSendMessageBroadcastsAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _, err := f.svc.StartOneToOne(ctx, alice, bob.ID)
	require.NoError(t, err)

	msg, err := f.svc.SendMessage(ctx, alice, conv.ID, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.True(t, msg.IsFromUser(alice.ID))

	assert.Equal(t, []string{models.EventMessageCreate}, f.publisher.kinds())
	reqs := f.notifier.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, bob.ID, reqs[0].UserID)
	assert.Equal(t, "new_message", reqs[0].TypeName)
	assert.Equal(t, "New message from Alice", reqs[0].Title)
	assert.Equal(t, &models.SourceRef{Kind: models.SourceMessage, ID: msg.ID}, reqs[0].Source)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _, err := f.svc.StartOneToOne(ctx, alice, bob.ID)
	require.NoError(t, err)

	tests := []struct {
		name    string
		user    models.User
		convID  int64
		content string
		kind    error
	}{
		{name: "blank", user: alice, convID: conv.ID, content: "   ", kind: apperr.ErrValidation},
		{name: "too long", user: alice, convID: conv.ID, content: fmt.Sprintf("%051d", 0), kind: apperr.ErrValidation},
		{name: "outsider", user: carol, convID: conv.ID, content: "hi", kind: apperr.ErrForbidden},
		{name: "missing conversation", user: alice, convID: 999, content: "hi", kind: apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(ctx, tt.user, tt.convID, tt.content)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
	assert.Empty(t, f.publisher.kinds())
}

func TestGroupMessageRateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.svc.CreateGroup(ctx, alice, GroupInput{Name: "support", ParticipantIDs: []int64{bob.ID}})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := f.svc.SendMessage(ctx, alice, group.ID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	_, err = f.svc.SendMessage(ctx, alice, group.ID, "one too many")
	assert.True(t, errors.Is(err, apperr.ErrRateLimited))

	msgs, err := f.svc.ListMessages(ctx, alice, group.ID, 0, 100)
	require.NoError(t, err)
	assert.Len(t, msgs, 10)
	assert.Equal(t, "m9", msgs[9].Content)
}

func TestStaffIsNotRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.svc.CreateGroup(ctx, staff, GroupInput{Name: "clinic", ParticipantIDs: []int64{bob.ID}})
	require.NoError(t, err)

	for i := 0; i < 15; i++ {
		_, err := f.svc.SendMessage(ctx, staff, group.ID, "update")
		require.NoError(t, err)
	}
}

func TestEditMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _, err := f.svc.StartOneToOne(ctx, alice, bob.ID)
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(ctx, alice, conv.ID, "helo")
	require.NoError(t, err)

	_, err = f.svc.EditMessage(ctx, bob, msg.ID, "hijack")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	edited, err := f.svc.EditMessage(ctx, alice, msg.ID, "hello")
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	assert.Equal(t, "hello", edited.Content)

	history, err := f.svc.EditHistory(ctx, bob, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", history.Content)
	require.Len(t, history.History, 1)
	assert.Equal(t, "helo", history.History[0].PreviousContent)
	assert.Equal(t, alice.ID, history.History[0].EditedBy)

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = f.svc.EditMessage(ctx, alice, msg.ID, "too late")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestDeletedMessageCannotBeEditedOrReacted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _, err := f.svc.StartOneToOne(ctx, alice, bob.ID)
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(ctx, alice, conv.ID, "oops")
	require.NoError(t, err)

	deleted, err := f.svc.DeleteMessage(ctx, alice, msg.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	_, err = f.svc.EditMessage(ctx, alice, msg.ID, "fixed")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Equal(t, "Deleted messages cannot be edited", apperr.PublicMessage(err))

	_, err = f.svc.AddReaction(ctx, bob, msg.ID, "like")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.svc.DeleteMessage(ctx, alice, msg.ID)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestDeleteMessagePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.svc.CreateGroup(ctx, alice, GroupInput{Name: "peer support", ParticipantIDs: []int64{bob.ID, carol.ID}})
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(ctx, bob, group.ID, "hi all")
	require.NoError(t, err)

	_, err = f.svc.DeleteMessage(ctx, carol, msg.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	deleted, err := f.svc.DeleteMessage(ctx, alice, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, deleted.DeletedBy)
	assert.Equal(t, alice.ID, *deleted.DeletedBy)
}

func TestReactionRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _, err := f.svc.StartOneToOne(ctx, alice, bob.ID)
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(ctx, alice, conv.ID, "good news")
	require.NoError(t, err)

	reacted, err := f.svc.AddReaction(ctx, bob, msg.ID, "heart")
	require.NoError(t, err)
	assert.Equal(t, []int64{bob.ID}, reacted.Reactions[models.ReactionHeart])

	cleared, err := f.svc.RemoveReaction(ctx, bob, msg.ID, "heart")
	require.NoError(t, err)
	assert.Empty(t, cleared.Reactions)

	again, err := f.svc.RemoveReaction(ctx, bob, msg.ID, "heart")
	require.NoError(t, err)
	assert.Empty(t, again.Reactions)
	assert.Equal(t, []string{
		models.EventMessageCreate,
		models.EventReactionChanged,
		models.EventReactionChanged,
	}, f.publisher.kinds())

	_, err = f.svc.AddReaction(ctx, bob, msg.ID, "angry")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	var reactionNotices []notify.SendRequest
	for _, req := range f.notifier.requests() {
		if req.TypeName == "message_reaction" {
			reactionNotices = append(reactionNotices, req)
		}
	}
	require.Len(t, reactionNotices, 1)
	assert.Equal(t, alice.ID, reactionNotices[0].UserID)
	assert.Equal(t, models.PriorityLow, reactionNotices[0].Priority)
	assert.False(t, reactionNotices[0].SendEmail)
}

func TestConcurrentReactionsAreNotLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var members []int64
	for id := int64(100); id < 130; id++ {
		f.store.PutUser(models.User{ID: id, Username: fmt.Sprintf("u%d", id), IsPremium: true})
		members = append(members, id)
	}
	f.svc.opts.MaxGroupParticipants = 50
	group, err := f.svc.CreateGroup(ctx, alice, GroupInput{Name: "big", ParticipantIDs: members})
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(ctx, alice, group.ID, "react to me")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range members {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.svc.AddReaction(ctx, models.User{ID: id}, msg.ID, "thumbsup")
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	stored, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Reactions[models.ReactionThumbsUp], len(members))
}

func TestMarkReadPublishesReceiptOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _, err := f.svc.StartOneToOne(ctx, alice, bob.ID)
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(ctx, alice, conv.ID, "read me")
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkRead(ctx, bob, msg.ID))
	require.NoError(t, f.svc.MarkRead(ctx, bob, msg.ID))
	assert.Equal(t, []string{models.EventMessageCreate, models.EventReadReceipt}, f.publisher.kinds())

	err = f.svc.MarkRead(ctx, carol, msg.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	err = f.svc.MarkRead(ctx, bob, 999)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestCreateGroupLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateGroup(ctx, alice, GroupInput{Name: "alone"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.svc.CreateGroup(ctx, alice, GroupInput{Name: " ", ParticipantIDs: []int64{bob.ID}})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.svc.CreateGroup(ctx, alice, GroupInput{Name: "crowd", ParticipantIDs: []int64{bob.ID, carol.ID, staff.ID, 404}})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	group, err := f.svc.CreateGroup(ctx, alice, GroupInput{Name: "one", ParticipantIDs: []int64{bob.ID, bob.ID}})
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID, bob.ID}, group.Participants)
	assert.True(t, group.IsModerator(alice.ID))

	_, err = f.svc.CreateGroup(ctx, alice, GroupInput{Name: "two", ParticipantIDs: []int64{carol.ID}})
	require.NoError(t, err)
	_, err = f.svc.CreateGroup(ctx, alice, GroupInput{Name: "three", ParticipantIDs: []int64{carol.ID}})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestGroupParticipantManagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.svc.CreateGroup(ctx, alice, GroupInput{Name: "circle", ParticipantIDs: []int64{bob.ID}})
	require.NoError(t, err)

	_, err = f.svc.AddGroupParticipant(ctx, bob, group.ID, carol.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	updated, err := f.svc.AddGroupParticipant(ctx, alice, group.ID, carol.ID)
	require.NoError(t, err)
	assert.True(t, updated.HasParticipant(carol.ID))

	_, err = f.svc.SendMessage(ctx, carol, group.ID, "hello circle")
	require.NoError(t, err)

	require.NoError(t, f.svc.RemoveGroupParticipant(ctx, alice, group.ID, carol.ID))
	_, err = f.svc.SendMessage(ctx, carol, group.ID, "still here?")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	err = f.svc.RemoveGroupParticipant(ctx, bob, group.ID, alice.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	assert.Equal(t, []eviction{{conversationID: group.ID, userID: carol.ID}}, f.sessions.all())
}

func TestRemovingAbsentReactionBroadcastsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _, err := f.svc.StartOneToOne(ctx, alice, bob.ID)
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(ctx, alice, conv.ID, "hi")
	require.NoError(t, err)
	_, err = f.svc.AddReaction(ctx, alice, msg.ID, "like")
	require.NoError(t, err)

	out, err := f.svc.RemoveReaction(ctx, bob, msg.ID, "like")
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID}, out.Reactions[models.ReactionLike])
	assert.Equal(t, []string{models.EventMessageCreate, models.EventReactionChanged}, f.publisher.kinds())
}

func TestLastModeratorCannotLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.svc.CreateGroup(ctx, alice, GroupInput{Name: "circle", ParticipantIDs: []int64{bob.ID, carol.ID}})
	require.NoError(t, err)

	err = f.svc.RemoveGroupParticipant(ctx, alice, group.ID, alice.ID)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Empty(t, f.sessions.all())

	conv, err := f.store.GetConversation(ctx, group.ID)
	require.NoError(t, err)
	assert.True(t, conv.HasParticipant(alice.ID))
	assert.Equal(t, []int64{alice.ID}, conv.Moderators)

	require.NoError(t, f.svc.RemoveGroupParticipant(ctx, bob, group.ID, bob.ID))
	assert.Equal(t, []eviction{{conversationID: group.ID, userID: bob.ID}}, f.sessions.all())
}

func TestPinMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.svc.CreateGroup(ctx, alice, GroupInput{Name: "pins", ParticipantIDs: []int64{bob.ID}})
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(ctx, bob, group.ID, "rules")
	require.NoError(t, err)

	_, err = f.svc.PinMessage(ctx, bob, group.ID, msg.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	pinned, err := f.svc.PinMessage(ctx, alice, group.ID, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, pinned.PinnedMessageID)
	assert.Equal(t, msg.ID, *pinned.PinnedMessageID)
}

func TestChatbotConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, created, err := f.svc.GetOrCreateChatbot(ctx, alice)
	require.NoError(t, err)
	assert.True(t, created)
	again, created, err := f.svc.GetOrCreateChatbot(ctx, alice)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)

	_, err = f.svc.SendMessage(ctx, alice, conv.ID, "I feel anxious")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, bob, conv.ID, "let me in")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	assert.Empty(t, f.notifier.requests())

	convs, err := f.svc.ListConversations(ctx, alice)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, models.KindChatbot, convs[0].Kind)
}
