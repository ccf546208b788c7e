package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSweeper struct {
	calls atomic.Int32
	idle  time.Duration
}

func (c *countingSweeper) Sweep(idle time.Duration) int {
	c.calls.Add(1)
	c.idle = idle
	return 2
}

func TestAddRateLimitSweep(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	require.NoError(t, s.AddRateLimitSweep("@every 1m", &countingSweeper{}, 10*time.Minute))
	assert.Equal(t, 1, s.Len())

	assert.Error(t, s.AddRateLimitSweep("every now and then", &countingSweeper{}, time.Minute))
	assert.Equal(t, 1, s.Len())
}

func TestSweepJobPassesIdle(t *testing.T) {
	sweeper := &countingSweeper{}
	sweepJob("test", sweeper, 5*time.Minute, zap.NewNop())()

	assert.Equal(t, int32(1), sweeper.calls.Load())
	assert.Equal(t, 5*time.Minute, sweeper.idle)
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	sweeper := &countingSweeper{}
	require.NoError(t, s.AddRateLimitSweep("@every 1s", sweeper, time.Minute))

	s.Start()
	assert.Eventually(t, func() bool { return sweeper.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
