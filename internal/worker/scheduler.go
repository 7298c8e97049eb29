package worker

import (
	"context"
	"sync"
	"time"

	"fieldsync/internal/logging"

	"github.com/rs/zerolog"
)

// BatchClock persists the time of the last scheduled batch.
type BatchClock interface {
	LastBatchAttempt(ctx context.Context) (time.Time, error)
	SetLastBatchAttempt(ctx context.Context, t time.Time) error
}

// ActiveCounter reports how many items wait in the active collection.
type ActiveCounter interface {
	ActiveCount() int
}

// HealthView is the part of the health monitor the scheduler consults.
type HealthView interface {
	AllHealthy() bool
}

// PassTrigger starts a pass without waiting for it.
type PassTrigger interface {
	Trigger(req Request)
}

// Scheduler retries the active collection every interval, measured from the
// persisted last batch attempt so restarts do not reset the countdown.
type Scheduler struct {
	clock    BatchClock
	queue    ActiveCounter
	health   HealthView
	engine   PassTrigger
	interval time.Duration
	tick     time.Duration
	logger   *zerolog.Logger
	now      func() time.Time

	mu   sync.RWMutex
	last time.Time
}

func NewScheduler(clock BatchClock, queue ActiveCounter, health HealthView, engine PassTrigger, interval, tick time.Duration, logger *zerolog.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{
		clock:    clock,
		queue:    queue,
		health:   health,
		engine:   engine,
		interval: interval,
		tick:     tick,
		logger:   logging.Component(logger, "scheduler"),
		now:      time.Now,
	}
}

// Start runs the tick loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	last, err := s.clock.LastBatchAttempt(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read last batch attempt, starting countdown now")
		last = s.now()
	}
	if last.IsZero() {
		last = s.now()
		s.persist(ctx, last)
	}
	s.setLast(last)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling decision and reports whether a pass was triggered.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if s.Countdown() > 0 {
		return false
	}

	now := s.now()
	// Reset first so an unhealthy cycle never stalls the countdown.
	s.setLast(now)
	s.persist(ctx, now)

	if s.queue.ActiveCount() == 0 {
		return false
	}

	allHealthy := s.health == nil || s.health.AllHealthy()
	if !allHealthy {
		s.logger.Info().Msg("not all services healthy, scheduled retry will not spend retry budget")
	}
	s.engine.Trigger(Request{Trigger: TriggerScheduled, SkipRetryIncrement: !allHealthy})
	return true
}

// Countdown is the time left until the next scheduled batch, never negative.
func (s *Scheduler) Countdown() time.Duration {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()

	remaining := s.interval - s.now().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *Scheduler) setLast(t time.Time) {
	s.mu.Lock()
	s.last = t
	s.mu.Unlock()
}

func (s *Scheduler) persist(ctx context.Context, t time.Time) {
	if err := s.clock.SetLastBatchAttempt(ctx, t); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist last batch attempt")
	}
}
