package ratelimit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mindcare-realtime/internal/apperr"
	"mindcare-realtime/internal/models"
	"mindcare-realtime/internal/telemetry"
)

func TestParseRate(t *testing.T) {
	cases := map[string]Rate{
		"10/min":    {Limit: 10, Window: time.Minute},
		"60/minute": {Limit: 60, Window: time.Minute},
		"200/hour":  {Limit: 200, Window: time.Hour},
		"5/s":       {Limit: 5, Window: time.Second},
		" 3 / day ": {Limit: 3, Window: 24 * time.Hour},
	}
	for raw, want := range cases {
		got, err := ParseRate(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"", "10", "x/min", "0/min", "10/fortnight"} {
		_, err := ParseRate(raw)
		assert.Error(t, err, raw)
	}
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

func TestMemoryStoreBurstThenRefill(t *testing.T) {
	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore()
	store.now = clock.now
	r := Rate{Limit: 10, Window: time.Minute}

	for i := 0; i < 10; i++ {
		ok, err := store.Allow(context.Background(), "k", r)
		require.NoError(t, err)
		require.True(t, ok, "event %d", i+1)
	}
	ok, _ := store.Allow(context.Background(), "k", r)
	assert.False(t, ok)

	clock.t = clock.t.Add(6 * time.Second)
	ok, _ = store.Allow(context.Background(), "k", r)
	assert.True(t, ok)
}

func TestMemoryStoreSweep(t *testing.T) {
	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore()
	store.now = clock.now
	r := Rate{Limit: 1, Window: time.Second}

	_, _ = store.Allow(context.Background(), "old", r)
	clock.t = clock.t.Add(20 * time.Minute)
	_, _ = store.Allow(context.Background(), "fresh", r)

	assert.Equal(t, 1, store.Sweep(10*time.Minute))
	assert.Equal(t, 1, store.Len())
}

func newLimiter(store Store) *Limiter {
	return NewLimiter(store, map[Scope]Rate{
		ScopeGroupMessage: {Limit: 2, Window: time.Minute},
	}, nil, zap.NewNop())
}

func TestLimiterRejectsAfterLimit(t *testing.T) {
	l := newLimiter(NewMemoryStore())
	user := models.User{ID: 1}

	require.NoError(t, l.Allow(context.Background(), user, ScopeGroupMessage))
	require.NoError(t, l.Allow(context.Background(), user, ScopeGroupMessage))
	err := l.Allow(context.Background(), user, ScopeGroupMessage)
	assert.ErrorIs(t, err, apperr.ErrRateLimited)

	// Other users and scopes have their own budget.
	assert.NoError(t, l.Allow(context.Background(), models.User{ID: 2}, ScopeGroupMessage))
	assert.NoError(t, l.Allow(context.Background(), user, ScopeTyping))
}

func TestLimiterExemptsStaffAndPremium(t *testing.T) {
	l := newLimiter(NewMemoryStore())
	for _, user := range []models.User{{ID: 5, IsStaff: true}, {ID: 6, IsPremium: true}} {
		for i := 0; i < 10; i++ {
			assert.NoError(t, l.Allow(context.Background(), user, ScopeGroupMessage))
		}
	}
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, Rate) (bool, error) {
	return false, errors.New("redis down")
}

func TestLimiterFailsOpen(t *testing.T) {
	l := newLimiter(failingStore{})
	assert.NoError(t, l.Allow(context.Background(), models.User{ID: 1}, ScopeGroupMessage))
}

type recordingAuditor struct{ actions []string }

func (a *recordingAuditor) Emit(_ context.Context, rec telemetry.Record) {
	a.actions = append(a.actions, rec.Action)
}

func TestLimiterAuditsViolations(t *testing.T) {
	audit := &recordingAuditor{}
	l := NewLimiter(NewMemoryStore(), map[Scope]Rate{ScopeTyping: {Limit: 1, Window: time.Minute}}, audit, zap.NewNop())
	user := models.User{ID: 3}

	require.NoError(t, l.Allow(context.Background(), user, ScopeTyping))
	require.Error(t, l.Allow(context.Background(), user, ScopeTyping))
	assert.Equal(t, []string{"rate_limit_exceeded"}, audit.actions)
}

func TestRedisStoreFixedWindow(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	store := NewRedisStore(client, "mindcare-test-"+time.Now().Format("150405.000000"))
	r := Rate{Limit: 3, Window: time.Minute}
	for i := 0; i < 3; i++ {
		ok, err := store.Allow(context.Background(), "user:1", r)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := store.Allow(context.Background(), "user:1", r)
	require.NoError(t, err)
	assert.False(t, ok)
}
