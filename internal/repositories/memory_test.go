package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindcare-realtime/internal/models"
)

var (
	_ ConversationRepository = (*MemoryStore)(nil)
	_ MessageRepository      = (*MemoryStore)(nil)
	_ NotificationRepository = (*MemoryStore)(nil)
	_ UserRepository         = (*MemoryStore)(nil)
	_ PreferenceRepository   = (*MemoryStore)(nil)

	_ ConversationRepository = (*ConversationRepo)(nil)
	_ MessageRepository      = (*MessageRepo)(nil)
	_ NotificationRepository = (*NotificationRepo)(nil)
	_ UserRepository         = (*UserRepo)(nil)
	_ PreferenceRepository   = (*UserRepo)(nil)
)

func TestMemoryOneToOneIsUniquePerPair(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, created, err := store.GetOrCreateOneToOne(ctx, 2, 1)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []int64{1, 2}, first.Participants)

	second, created, err := store.GetOrCreateOneToOne(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = store.GetOrCreateOneToOne(ctx, 3, 3)
	assert.ErrorIs(t, err, ErrSelfConversation)
}

func TestMemoryMembershipChecksMatchKind(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	group, err := store.CreateGroup(ctx, 1, "circle", "", false, []int64{1, 2})
	require.NoError(t, err)
	bot, _, err := store.GetOrCreateChatbot(ctx, 3)
	require.NoError(t, err)

	ok, _ := store.IsGroupParticipant(ctx, group.ID, 2)
	assert.True(t, ok)
	ok, _ = store.IsOneToOneParticipant(ctx, group.ID, 2)
	assert.False(t, ok)
	ok, _ = store.IsChatbotOwner(ctx, bot.ID, 3)
	assert.True(t, ok)
	ok, _ = store.IsChatbotOwner(ctx, bot.ID, 1)
	assert.False(t, ok)

	require.NoError(t, store.RemoveParticipant(ctx, group.ID, 2))
	ok, _ = store.IsGroupParticipant(ctx, group.ID, 2)
	assert.False(t, ok)
}

func TestMemoryEditHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	conv, _, _ := store.GetOrCreateOneToOne(ctx, 1, 2)
	sender := int64(1)
	msg, err := store.CreateMessage(ctx, conv.ID, &sender, "v1", models.MessageText)
	require.NoError(t, err)

	at := time.Now()
	_, err = store.UpdateContent(ctx, msg.ID, 1, "v2", at)
	require.NoError(t, err)
	updated, err := store.UpdateContent(ctx, msg.ID, 1, "v3", at.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "v3", updated.Content)
	assert.True(t, updated.Edited)

	history, err := store.EditHistory(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "v2", history[0].PreviousContent)
	assert.Equal(t, "v1", history[1].PreviousContent)

	_, err = store.SoftDelete(ctx, msg.ID, 1, at)
	require.NoError(t, err)
	_, err = store.UpdateContent(ctx, msg.ID, 1, "v4", at)
	assert.ErrorIs(t, err, ErrMessageDeleted)
	_, err = store.SoftDelete(ctx, msg.ID, 1, at)
	assert.ErrorIs(t, err, ErrMessageDeleted)
}

func TestMemoryConcurrentReactionsKeepEveryUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	conv, _ := store.CreateGroup(ctx, 1, "g", "", false, []int64{1, 2})
	sender := int64(1)
	msg, _ := store.CreateMessage(ctx, conv.ID, &sender, "hi", models.MessageText)

	const n = 50
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := store.AddReaction(ctx, msg.ID, userID, models.ReactionHeart)
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	got, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Len(t, got.Reactions[models.ReactionHeart], n)
}

func TestMemoryListMessagesPagesBackwards(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	conv, _, _ := store.GetOrCreateOneToOne(ctx, 1, 2)
	sender := int64(1)
	var ids []int64
	for _, content := range []string{"a", "b", "c", "d"} {
		msg, err := store.CreateMessage(ctx, conv.ID, &sender, content, models.MessageText)
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	page, err := store.ListMessages(ctx, conv.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Content)
	assert.Equal(t, "d", page[1].Content)

	older, err := store.ListMessages(ctx, conv.ID, ids[2], 10)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "a", older[0].Content)
}

func TestMemoryNotificationInbox(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	typ, err := store.GetOrCreateType(ctx, models.NotificationType{Name: "new_message", DefaultEnabled: true})
	require.NoError(t, err)
	again, err := store.GetOrCreateType(ctx, models.NotificationType{Name: "new_message", DefaultEnabled: false})
	require.NoError(t, err)
	assert.Equal(t, typ, again)

	for i := 0; i < 3; i++ {
		_, err := store.CreateNotification(ctx, models.Notification{UserID: 7, TypeID: typ.ID, Title: "t", Priority: models.PriorityMedium})
		require.NoError(t, err)
	}
	list, err := store.ListNotifications(ctx, 7, false, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "new_message", list[0].TypeName)

	require.NoError(t, store.MarkNotificationRead(ctx, 7, list[0].ID))
	assert.ErrorIs(t, store.MarkNotificationRead(ctx, 8, list[1].ID), ErrNotificationNotFound)

	count, _ := store.UnreadCount(ctx, 7)
	assert.Equal(t, 2, count)
	changed, _ := store.MarkAllRead(ctx, 7)
	assert.Equal(t, 2, changed)
}
