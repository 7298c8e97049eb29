package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memClock struct {
	mu   sync.Mutex
	last time.Time
	sets int
}

func (c *memClock) LastBatchAttempt(context.Context) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, nil
}

func (c *memClock) SetLastBatchAttempt(_ context.Context, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = t
	c.sets++
	return nil
}

type recordingTrigger struct {
	mu   sync.Mutex
	reqs []Request
}

func (r *recordingTrigger) Trigger(req Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
}

func (r *recordingTrigger) requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.reqs...)
}

type staticHealth bool

func (h staticHealth) AllHealthy() bool { return bool(h) }

func newTestScheduler(queue ActiveCounter, health HealthView) (*Scheduler, *memClock, *recordingTrigger, *time.Time) {
	clock := &memClock{}
	trigger := &recordingTrigger{}
	logger := zerolog.Nop()
	s := NewScheduler(clock, queue, health, trigger, time.Minute, time.Millisecond, &logger)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.setLast(now)
	return s, clock, trigger, &now
}

func TestScheduler_CountdownAndTick(t *testing.T) {
	s, clock, trigger, now := newTestScheduler(newMemQueue(newItem(time.Now())), staticHealth(true))

	assert.Equal(t, time.Minute, s.Countdown())
	*now = now.Add(20 * time.Second)
	assert.Equal(t, 40*time.Second, s.Countdown())
	assert.False(t, s.Tick(context.Background()))

	*now = now.Add(41 * time.Second)
	assert.Equal(t, time.Duration(0), s.Countdown())
	assert.True(t, s.Tick(context.Background()))

	reqs := trigger.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, TriggerScheduled, reqs[0].Trigger)
	assert.False(t, reqs[0].SkipRetryIncrement)
	assert.Equal(t, *now, clock.last)
	assert.Equal(t, time.Minute, s.Countdown())
}

func TestScheduler_UnhealthyCycleResetsTimer(t *testing.T) {
	s, clock, trigger, now := newTestScheduler(newMemQueue(newItem(time.Now())), staticHealth(false))

	*now = now.Add(time.Minute)
	assert.True(t, s.Tick(context.Background()))

	reqs := trigger.requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].SkipRetryIncrement)
	assert.Equal(t, *now, clock.last)

	// The countdown keeps moving after an unhealthy cycle.
	assert.Equal(t, time.Minute, s.Countdown())
	*now = now.Add(30 * time.Second)
	assert.Equal(t, 30*time.Second, s.Countdown())
}

func TestScheduler_EmptyQueueOnlyResetsTimer(t *testing.T) {
	s, clock, trigger, now := newTestScheduler(newMemQueue(), staticHealth(true))

	*now = now.Add(2 * time.Minute)
	assert.False(t, s.Tick(context.Background()))
	assert.Empty(t, trigger.requests())
	assert.Equal(t, 1, clock.sets)
	assert.Equal(t, time.Minute, s.Countdown())
}

func TestScheduler_StartUsesPersistedTimestamp(t *testing.T) {
	clock := &memClock{}
	trigger := &recordingTrigger{}
	logger := zerolog.Nop()
	s := NewScheduler(clock, newMemQueue(newItem(time.Now())), staticHealth(true), trigger, time.Hour, time.Millisecond, &logger)

	clock.last = time.Now().Add(-2 * time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(trigger.requests()) == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Greater(t, s.Countdown(), 59*time.Minute)
}
