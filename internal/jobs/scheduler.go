package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper drops state idle for longer than the given duration.
type Sweeper interface {
	Sweep(idle time.Duration) int
}

// Scheduler runs periodic maintenance jobs.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
}

func NewScheduler(log *zap.Logger) *Scheduler {
	logger := cronLogger{log: log.Sugar()}
	return &Scheduler{
		cron: cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		log:  log,
	}
}

// AddRateLimitSweep drops idle in-memory rate-limit buckets on schedule,
// a cron expression or descriptor such as "@every 5m".
func (s *Scheduler) AddRateLimitSweep(schedule string, store Sweeper, idle time.Duration) error {
	_, err := s.cron.AddFunc(schedule, sweepJob("rate_limit_buckets", store, idle, s.log))
	return err
}

func sweepJob(name string, store Sweeper, idle time.Duration, log *zap.Logger) func() {
	return func() {
		if removed := store.Sweep(idle); removed > 0 {
			log.Info("swept idle entries", zap.String("job", name), zap.Int("removed", removed))
		}
	}
}

// Len reports how many jobs are scheduled.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
