package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Store answers the per-kind participant questions.
type Store interface {
	IsOneToOneParticipant(ctx context.Context, conversationID int64, userID int64) (bool, error)
	IsGroupParticipant(ctx context.Context, conversationID int64, userID int64) (bool, error)
	IsChatbotOwner(ctx context.Context, conversationID int64, userID int64) (bool, error)
}

// Resolver decides whether a user may see a conversation. Positive answers
// are cached for ttl; negative answers are always re-checked.
type Resolver struct {
	store Store
	cache *expirable.LRU[string, bool]
	log   *zap.Logger
}

func NewResolver(store Store, size int, ttl time.Duration, log *zap.Logger) *Resolver {
	if size <= 0 {
		size = 1024
	}
	return &Resolver{
		store: store,
		cache: expirable.NewLRU[string, bool](size, nil, ttl),
		log:   log,
	}
}

func cacheKey(userID, conversationID int64) string {
	return fmt.Sprintf("%d:%d", conversationID, userID)
}

// IsMember checks one-to-one participants, then group participants, then the
// chatbot owner, stopping at the first match. Store errors count as "no".
func (r *Resolver) IsMember(ctx context.Context, userID int64, conversationID int64) bool {
	key := cacheKey(userID, conversationID)
	if _, ok := r.cache.Get(key); ok {
		return true
	}

	checks := []struct {
		kind  string
		check func(context.Context, int64, int64) (bool, error)
	}{
		{"one_to_one", r.store.IsOneToOneParticipant},
		{"group", r.store.IsGroupParticipant},
		{"chatbot", r.store.IsChatbotOwner},
	}
	for _, c := range checks {
		ok, err := c.check(ctx, conversationID, userID)
		if err != nil {
			r.log.Warn("membership check failed",
				zap.String("kind", c.kind),
				zap.Int64("conversation_id", conversationID),
				zap.Int64("user_id", userID),
				zap.Error(err),
			)
			return false
		}
		if ok {
			r.cache.Add(key, true)
			return true
		}
	}
	return false
}

// Invalidate drops a cached answer, e.g. after the user left a group.
func (r *Resolver) Invalidate(userID int64, conversationID int64) {
	r.cache.Remove(cacheKey(userID, conversationID))
}
