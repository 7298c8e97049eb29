package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fieldsync/internal/domain"
	"fieldsync/internal/events"
	"fieldsync/internal/logging"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// errAborted reports an attempt cut short by the pass context. The step's state
// is left as it was before the attempt.
var errAborted = errors.New("attempt aborted")

// Trigger names what started a sync pass.
type Trigger string

const (
	TriggerEnqueue   Trigger = "enqueue"
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// Request describes one pass.
type Request struct {
	Trigger Trigger
	// LocalIDs restricts a manual pass; empty means every active item.
	LocalIDs []string
	// SkipRetryIncrement marks the selected items so this pass does not spend their budget.
	SkipRetryIncrement bool
}

// BatchResult summarises a pass.
type BatchResult struct {
	Trigger   Trigger
	Attempted int
	Completed int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// Queue is the engine's view of the in-memory queue.
type Queue interface {
	// ActiveSnapshot returns deep copies of the active items.
	ActiveSnapshot() []*models.QueueItem
	// MarkProcessing flags items as in flight without persisting.
	MarkProcessing(localIDs []string)
	// ApplyResults merges processed items by localId, moves terminal items to the
	// completed collection and persists both collections in one write. It returns
	// copies of the items that were applied.
	ApplyResults(ctx context.Context, items []*models.QueueItem) ([]*models.QueueItem, error)
}

// Clients bundles the downstream collaborators.
type Clients struct {
	Database domain.DatabaseSubmitter
	Attester domain.Attester
	Signer   domain.Signer
	Linker   domain.Linker
}

type EngineOptions struct {
	AttemptTimeout time.Duration
	Concurrency    int
}

// SyncEngine drives items through directus, eas and linking. Only one pass runs
// at a time; triggers that arrive during a pass collapse into one follow-up pass.
type SyncEngine struct {
	queue   Queue
	clients Clients
	health  domain.HealthSnapshot
	device  domain.DeviceSignals
	bus     domain.EventPublisher
	policy  RetryPolicy
	opts    EngineOptions
	logger  *zerolog.Logger
	now     func() time.Time

	sem     chan struct{}
	mu      sync.Mutex
	pending *Request
	baseCtx context.Context
	wg      sync.WaitGroup
}

func NewSyncEngine(
	queue Queue,
	clients Clients,
	health domain.HealthSnapshot,
	device domain.DeviceSignals,
	bus domain.EventPublisher,
	policy RetryPolicy,
	opts EngineOptions,
	logger *zerolog.Logger,
) *SyncEngine {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = models.DefaultMaxRetries
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = models.DefaultAttemptTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = models.DefaultConcurrency
	}
	return &SyncEngine{
		queue:   queue,
		clients: clients,
		health:  health,
		device:  device,
		bus:     bus,
		policy:  policy,
		opts:    opts,
		logger:  logging.Component(logger, "engine"),
		now:     time.Now,
		sem:     make(chan struct{}, 1),
		baseCtx: context.Background(),
	}
}

// MaxRetries is the retry budget items are judged against.
func (e *SyncEngine) MaxRetries() int { return e.policy.MaxRetries }

// SetContext sets the context used by passes started through Trigger.
func (e *SyncEngine) SetContext(ctx context.Context) {
	e.mu.Lock()
	e.baseCtx = ctx
	e.mu.Unlock()
}

// Trigger starts a pass in the background and returns immediately. If a pass is
// already running, one follow-up pass is scheduled instead.
func (e *SyncEngine) Trigger(req Request) {
	select {
	case e.sem <- struct{}{}:
		e.mu.Lock()
		ctx := e.baseCtx
		e.mu.Unlock()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer e.release()
			e.pass(ctx, req)
		}()
	default:
		e.mu.Lock()
		if e.pending == nil {
			r := req
			e.pending = &r
		}
		e.mu.Unlock()
	}
}

// Run waits for any running pass, then runs req and returns its result. ctx
// only bounds the wait; once started the pass runs under the engine's context,
// so a caller that goes away does not abort it.
func (e *SyncEngine) Run(ctx context.Context, req Request) (BatchResult, error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return BatchResult{Trigger: req.Trigger}, ctx.Err()
	}
	defer e.release()

	e.mu.Lock()
	passCtx := e.baseCtx
	e.mu.Unlock()
	return e.pass(passCtx, req), nil
}

// Wait blocks until background passes have finished.
func (e *SyncEngine) Wait() {
	e.wg.Wait()
}

func (e *SyncEngine) release() {
	<-e.sem
	e.mu.Lock()
	next := e.pending
	e.pending = nil
	e.mu.Unlock()
	if next != nil {
		e.Trigger(*next)
	}
}

func (e *SyncEngine) pass(ctx context.Context, req Request) BatchResult {
	start := e.now()
	result := BatchResult{Trigger: req.Trigger}

	selected := e.selectItems(req, start)
	if len(selected) == 0 {
		if req.Trigger != TriggerEnqueue {
			e.publish(events.EventBatchRetryCompleted, batchPayload(result))
		}
		return result
	}

	ids := make([]string, len(selected))
	for i, item := range selected {
		ids[i] = item.LocalID
		switch {
		case req.Trigger == TriggerManual:
			item.SkipRetryIncrement = false
		case req.SkipRetryIncrement:
			item.SkipRetryIncrement = true
		}
	}

	e.publish(events.EventBatchRetryStarted, events.BatchEventPayload{Trigger: string(req.Trigger), Attempted: len(selected)})
	e.queue.MarkProcessing(ids)

	attempted := make([]bool, len(selected))
	g := new(errgroup.Group)
	g.SetLimit(e.opts.Concurrency)
	for i, item := range selected {
		g.Go(func() error {
			attempted[i] = e.processItem(ctx, req, item)
			return nil
		})
	}
	_ = g.Wait()

	// Results are written even when the pass was cancelled midway.
	applied, err := e.queue.ApplyResults(context.WithoutCancel(ctx), selected)
	if err != nil {
		e.logger.Error().Err(err).Str("trigger", string(req.Trigger)).Msg("failed to persist pass results")
	}

	for i := range selected {
		if attempted[i] {
			result.Attempted++
		} else {
			result.Skipped++
		}
	}
	for _, item := range applied {
		e.publish(events.EventItemUpdated, events.NewItemEventPayload(item))
		switch item.Status {
		case models.ItemCompleted:
			result.Completed++
		case models.ItemFailed:
			result.Failed++
			e.publish(events.EventItemFailed, events.NewItemEventPayload(item))
		}
	}

	result.Duration = e.now().Sub(start)
	metrics.ObserveBatch(string(req.Trigger), result.Duration)
	e.publish(events.EventBatchRetryCompleted, batchPayload(result))
	e.logger.Info().
		Str("trigger", string(req.Trigger)).
		Int("attempted", result.Attempted).
		Int("completed", result.Completed).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Dur("duration", result.Duration).
		Msg("sync pass finished")
	return result
}

func (e *SyncEngine) selectItems(req Request, now time.Time) []*models.QueueItem {
	var wanted map[string]bool
	if req.Trigger == TriggerManual && len(req.LocalIDs) > 0 {
		wanted = make(map[string]bool, len(req.LocalIDs))
		for _, id := range req.LocalIDs {
			wanted[id] = true
		}
	}

	var out []*models.QueueItem
	for _, item := range e.queue.ActiveSnapshot() {
		if wanted != nil && !wanted[item.LocalID] {
			continue
		}
		backoff := e.policy.BackoffFor(item.TotalRetryCount)
		if req.Trigger == TriggerManual {
			backoff = 0
		}
		if models.IsRetryEligible(item, now, e.policy.MaxRetries, backoff) {
			out = append(out, item)
		}
	}
	return out
}

// processItem advances item as far as it can and reports whether any network
// call was made. item is the engine's private copy.
func (e *SyncEngine) processItem(ctx context.Context, req Request, item *models.QueueItem) (attempted bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("local_id", item.LocalID).Msg("item processing panicked")
			step, ok := models.NextStep(item)
			if !ok {
				step = models.ServiceLinking
			}
			now := e.now()
			st := item.State(step)
			st.Status = models.ServiceFailed
			st.Error = fmt.Sprintf("internal error: %v", r)
			st.LastAttempt = &now
			attempted = true
		}
		e.finishItem(item, attempted)
	}()

	for {
		step, ok := models.NextStep(item)
		if !ok {
			return attempted
		}
		// No new attempt starts after cancellation or once the device goes away.
		if ctx.Err() != nil || !e.deviceReady() {
			return attempted
		}
		if req.Trigger == TriggerScheduled && e.health != nil && !e.health.Healthy(step) {
			return attempted
		}
		err := e.attempt(ctx, item, step)
		if errors.Is(err, errAborted) {
			return attempted
		}
		attempted = true
		if err != nil {
			return attempted
		}
	}
}

func (e *SyncEngine) deviceReady() bool {
	return e.device == nil || (e.device.Online() && e.device.Foreground())
}

func (e *SyncEngine) finishItem(item *models.QueueItem, attempted bool) {
	if attempted && !item.SkipRetryIncrement && e.spendsBudget(item) {
		item.TotalRetryCount++
	}
	item.SkipRetryIncrement = false
	item.Status = models.DeriveOverallStatus(item, e.policy.MaxRetries)

	if item.Status != models.ItemFailed {
		return
	}
	for _, s := range models.Steps {
		st := item.State(s)
		if st.Status == models.ServiceFailed && !st.Permanent && st.Error != "" {
			st.Error = fmt.Sprintf("%s: %s", st.Error, models.ErrRetryBudgetExhausted)
		}
	}
}

// spendsBudget reports whether this pass may count against item's budget. The
// last unit is only spent by a pass that left a failed sub-service or finished
// the item; otherwise an incomplete item with nothing failed would be stuck in
// active with no retries left.
func (e *SyncEngine) spendsBudget(item *models.QueueItem) bool {
	if item.TotalRetryCount+1 < e.policy.MaxRetries {
		return true
	}
	if _, pending := models.NextStep(item); !pending {
		return true
	}
	return models.HasFailedService(item)
}

func (e *SyncEngine) attempt(ctx context.Context, item *models.QueueItem, step models.Service) error {
	actx, cancel := context.WithTimeout(ctx, e.opts.AttemptTimeout)
	defer cancel()

	now := e.now()
	st := item.State(step)
	prev := *st
	st.LastAttempt = &now

	err := e.call(actx, item, step)
	if err != nil && ctx.Err() != nil {
		*st = prev
		e.logger.Info().Str("local_id", item.LocalID).Str("service", string(step)).Msg("attempt aborted by shutdown or cancellation")
		return errAborted
	}
	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		var classifier models.ErrorClassifier
		if !errors.As(err, &classifier) {
			err = &models.TransientError{Service: step, Err: err}
		}
	}

	log := e.logger.With().Str("local_id", item.LocalID).Str("service", string(step)).Logger()
	if err != nil {
		st.Status = models.ServiceFailed
		st.Error = err.Error()
		st.Permanent = !models.IsRetryable(err)
		outcome := "transient"
		if st.Permanent {
			outcome = "permanent"
		}
		metrics.ObserveAttempt(string(step), outcome)
		log.Warn().Err(err).Bool("permanent", st.Permanent).Msg("submission failed")
		return err
	}

	st.Status = models.ServiceCompleted
	st.Error = ""
	st.Permanent = false
	metrics.ObserveAttempt(string(step), "success")
	if e.health != nil {
		e.health.MarkHealthy(step)
	}
	log.Debug().Msg("submission succeeded")
	return nil
}

func (e *SyncEngine) call(ctx context.Context, item *models.QueueItem, step models.Service) error {
	switch step {
	case models.ServiceDirectus:
		id, err := e.clients.Database.SubmitEvent(ctx, item)
		if err != nil {
			return err
		}
		item.DirectusID = id
		return nil

	case models.ServiceEAS:
		payload, err := e.clients.Attester.Payload(item)
		if err != nil {
			return &models.ValidationError{Service: models.ServiceEAS, Message: err.Error()}
		}
		sig, err := e.clients.Signer.Sign(ctx, payload)
		if err != nil {
			return err
		}
		att, err := e.clients.Attester.Attest(ctx, item, sig)
		if err != nil {
			return err
		}
		item.EASUID = att.UID
		item.TxHash = att.TxHash
		return nil

	case models.ServiceLinking:
		if item.DirectusID == "" || item.EASUID == "" {
			return &models.ValidationError{Service: models.ServiceLinking, Message: "record id or attestation uid missing"}
		}
		return e.clients.Linker.LinkAttestation(ctx, item.DirectusID, item.EASUID)

	default:
		return fmt.Errorf("unknown service %q", step)
	}
}

func (e *SyncEngine) publish(kind string, payload interface{}) {
	if e.bus == nil {
		return
	}
	if err := e.bus.PublishJSON(kind, payload); err != nil {
		e.logger.Warn().Err(err).Str("event", kind).Msg("failed to publish event")
	}
}

func batchPayload(r BatchResult) events.BatchEventPayload {
	return events.BatchEventPayload{
		Trigger:    string(r.Trigger),
		Attempted:  r.Attempted,
		Completed:  r.Completed,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
		DurationMs: r.Duration.Milliseconds(),
	}
}
