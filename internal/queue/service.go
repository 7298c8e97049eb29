package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fieldsync/internal/domain"
	"fieldsync/internal/events"
	"fieldsync/internal/logging"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"
	"fieldsync/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Runner executes sync passes.
type Runner interface {
	Trigger(req worker.Request)
	Run(ctx context.Context, req worker.Request) (worker.BatchResult, error)
}

// Snapshot is a copy of the queue state for consumers.
type Snapshot struct {
	Active    []*models.QueueItem `json:"active"`
	Completed []*models.QueueItem `json:"completed"`
	// Failed lists every item with a failed sub-service, retryable or not.
	Failed []*models.QueueItem `json:"failed"`
}

// Service owns the only in-memory copy of the queue. Every mutation goes
// through it and is persisted before events are emitted.
type Service struct {
	store      domain.QueueStore
	bus        *events.EventBus
	maxRetries int
	logger     *zerolog.Logger
	now        func() time.Time

	mu        sync.RWMutex
	active    []*models.QueueItem
	completed []*models.QueueItem
	// processing holds the ids of the current pass; the flag is shown to
	// consumers but never written to the store.
	processing map[string]bool
	runner     Runner
}

var _ worker.Queue = (*Service)(nil)

func NewService(store domain.QueueStore, bus *events.EventBus, maxRetries int, logger *zerolog.Logger) *Service {
	if maxRetries <= 0 {
		maxRetries = models.DefaultMaxRetries
	}
	return &Service{
		store:      store,
		bus:        bus,
		maxRetries: maxRetries,
		logger:     logging.Component(logger, "queue"),
		now:        time.Now,
		active:     []*models.QueueItem{},
		completed:  []*models.QueueItem{},
		processing: make(map[string]bool),
	}
}

// SetRunner wires the engine. Enqueue only triggers passes once a runner is set.
func (s *Service) SetRunner(r Runner) {
	s.mu.Lock()
	s.runner = r
	s.mu.Unlock()
}

// Load reads both collections from the store. Corrupt collections start empty,
// PROCESSING leftovers are reset and duplicate localIds keep their first occurrence.
func (s *Service) Load(ctx context.Context) error {
	active, err := s.store.ReadActive(ctx)
	if err = s.recoverCorruption(err); err != nil {
		return fmt.Errorf("load active queue: %w", err)
	}
	completed, err := s.store.ReadCompleted(ctx)
	if err = s.recoverCorruption(err); err != nil {
		return fmt.Errorf("load completed queue: %w", err)
	}

	changed := false
	seen := make(map[string]bool, len(active)+len(completed))
	var nextActive, nextCompleted []*models.QueueItem

	for _, item := range active {
		if seen[item.LocalID] {
			changed = true
			s.logger.Warn().Str("local_id", item.LocalID).Msg("dropping duplicate queue item")
			continue
		}
		seen[item.LocalID] = true
		if models.RecoverInterrupted(item, s.maxRetries) {
			changed = true
		}
		if models.IsTerminal(item, s.maxRetries) {
			item.Status = models.DeriveOverallStatus(item, s.maxRetries)
			nextCompleted = append(nextCompleted, item)
			changed = true
			continue
		}
		nextActive = append(nextActive, item)
	}
	for _, item := range completed {
		if seen[item.LocalID] {
			changed = true
			s.logger.Warn().Str("local_id", item.LocalID).Msg("dropping duplicate completed item")
			continue
		}
		seen[item.LocalID] = true
		nextCompleted = append(nextCompleted, item)
	}

	if nextActive == nil {
		nextActive = []*models.QueueItem{}
	}
	if nextCompleted == nil {
		nextCompleted = []*models.QueueItem{}
	}

	if changed {
		if err := s.store.WriteCollections(ctx, nextActive, nextCompleted); err != nil {
			return fmt.Errorf("persist recovered queue: %w", err)
		}
	}

	s.mu.Lock()
	s.active, s.completed = nextActive, nextCompleted
	s.mu.Unlock()
	s.updateMetrics()

	s.logger.Info().Int("active", len(nextActive)).Int("completed", len(nextCompleted)).Msg("queue loaded")
	return nil
}

func (s *Service) recoverCorruption(err error) error {
	var corrupt *models.StorageCorruptionError
	if errors.As(err, &corrupt) {
		s.logger.Error().Err(err).Str("key", corrupt.Key).Msg("queue collection is corrupted, starting empty")
		return nil
	}
	return err
}

// Enqueue stores a new item, emits item_added and starts a pass in the background.
func (s *Service) Enqueue(ctx context.Context, item *models.QueueItem) error {
	if item == nil {
		return models.ErrInvalidItem
	}
	item = item.Clone()
	if item.LocalID == "" {
		item.LocalID = uuid.NewString()
	}
	if item.Date.IsZero() {
		item.Date = s.now().UTC()
	}
	item.Reset()

	s.mu.Lock()
	if s.containsLocked(item.LocalID) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrDuplicateLocalID, item.LocalID)
	}
	next := append(append(make([]*models.QueueItem, 0, len(s.active)+1), s.active...), item)
	if err := s.store.WriteActive(ctx, next); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist enqueued item: %w", err)
	}
	s.active = next
	runner := s.runner
	s.mu.Unlock()

	s.updateMetrics()
	s.publish(events.EventItemAdded, events.NewItemEventPayload(item))
	s.logger.Info().Str("local_id", item.LocalID).Str("action", item.ActionName).Msg("item enqueued")

	if runner != nil {
		runner.Trigger(worker.Request{Trigger: worker.TriggerEnqueue})
	}
	return nil
}

func (s *Service) containsLocked(localID string) bool {
	for _, it := range s.active {
		if it.LocalID == localID {
			return true
		}
	}
	for _, it := range s.completed {
		if it.LocalID == localID {
			return true
		}
	}
	return false
}

// UpdateQueueItems replaces the active collection. Terminal items move to the
// completed collection; duplicates, including ids already completed, are dropped.
func (s *Service) UpdateQueueItems(ctx context.Context, items []*models.QueueItem) error {
	s.mu.Lock()
	seen := make(map[string]bool, len(items)+len(s.completed))
	for _, it := range s.completed {
		seen[it.LocalID] = true
	}

	nextActive := make([]*models.QueueItem, 0, len(items))
	nextCompleted := append([]*models.QueueItem(nil), s.completed...)
	var updated []*models.QueueItem
	for _, in := range items {
		if in == nil || in.LocalID == "" || seen[in.LocalID] {
			continue
		}
		seen[in.LocalID] = true
		item := in.Clone()
		item.Status = models.DeriveOverallStatus(item, s.maxRetries)
		if models.IsTerminal(item, s.maxRetries) {
			nextCompleted = append(nextCompleted, item)
		} else {
			nextActive = append(nextActive, item)
		}
		updated = append(updated, item.Clone())
	}

	if err := s.store.WriteCollections(ctx, nextActive, nextCompleted); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist queue update: %w", err)
	}
	s.active, s.completed = nextActive, nextCompleted
	s.mu.Unlock()

	s.updateMetrics()
	for _, item := range updated {
		s.publish(events.EventItemUpdated, events.NewItemEventPayload(item))
	}
	return nil
}

// Retry runs a manual pass over localIDs, or over every active item when empty,
// and blocks until it completes. Backoff and health gating do not apply.
func (s *Service) Retry(ctx context.Context, localIDs []string) (worker.BatchResult, error) {
	s.mu.RLock()
	runner := s.runner
	s.mu.RUnlock()
	if runner == nil {
		return worker.BatchResult{}, errors.New("sync engine is not running")
	}
	return runner.Run(ctx, worker.Request{Trigger: worker.TriggerManual, LocalIDs: localIDs})
}

// ClearCompleted irreversibly drops every completed and terminally failed item.
func (s *Service) ClearCompleted(ctx context.Context) (int, error) {
	s.mu.Lock()
	removed := len(s.completed)
	if err := s.store.WriteCompleted(ctx, []*models.QueueItem{}); err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("clear completed queue: %w", err)
	}
	s.completed = []*models.QueueItem{}
	s.mu.Unlock()

	s.updateMetrics()
	s.publish(events.EventQueueCleared, events.ClearEventPayload{Removed: removed})
	s.logger.Info().Int("removed", removed).Msg("completed queue cleared")
	return removed, nil
}

// Snapshot returns copies of every collection, newest items first.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Active:    models.CloneItems(s.active),
		Completed: models.CloneItems(s.completed),
		Failed:    []*models.QueueItem{},
	}
	for _, item := range snap.Active {
		if s.processing[item.LocalID] {
			item.Status = models.ItemProcessing
		}
	}
	for _, group := range [][]*models.QueueItem{snap.Active, snap.Completed} {
		for _, item := range group {
			if hasFailure(item) {
				snap.Failed = append(snap.Failed, item)
			}
		}
	}
	newestFirst(snap.Active)
	newestFirst(snap.Completed)
	newestFirst(snap.Failed)
	return snap
}

func hasFailure(item *models.QueueItem) bool {
	return item.Status == models.ItemFailed || models.HasFailedService(item)
}

// newestFirst orders items by submission date, latest first.
func newestFirst(items []*models.QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Date.After(items[j].Date)
	})
}

// Subscribe registers handler on the queue's event bus.
func (s *Service) Subscribe(kind string, handler events.EventHandler) func() {
	return s.bus.Subscribe(kind, handler)
}

func (s *Service) ActiveSnapshot() []*models.QueueItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneItems(s.active)
}

func (s *Service) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// MarkProcessing flags items as in flight. The flag lives beside the items so
// it can never be persisted.
func (s *Service) MarkProcessing(localIDs []string) {
	var marked []events.ItemEventPayload
	s.mu.Lock()
	for _, id := range localIDs {
		for _, item := range s.active {
			if item.LocalID != id {
				continue
			}
			s.processing[id] = true
			p := events.NewItemEventPayload(item)
			p.Status = models.ItemProcessing
			marked = append(marked, p)
			break
		}
	}
	s.mu.Unlock()

	for _, p := range marked {
		s.publish(events.EventItemUpdated, p)
	}
}

// ApplyResults merges processed items into the active collection by localId so
// items enqueued during the pass survive. The in-memory state is updated even
// when the write fails; the next successful write persists it.
func (s *Service) ApplyResults(ctx context.Context, results []*models.QueueItem) ([]*models.QueueItem, error) {
	byID := make(map[string]*models.QueueItem, len(results))
	for _, r := range results {
		byID[r.LocalID] = r
	}

	s.mu.Lock()
	for id := range byID {
		delete(s.processing, id)
	}
	completedIDs := make(map[string]bool, len(s.completed))
	for _, it := range s.completed {
		completedIDs[it.LocalID] = true
	}

	nextActive := make([]*models.QueueItem, 0, len(s.active))
	nextCompleted := append([]*models.QueueItem(nil), s.completed...)
	var applied []*models.QueueItem
	for _, current := range s.active {
		r, ok := byID[current.LocalID]
		if !ok {
			nextActive = append(nextActive, current)
			continue
		}
		item := r.Clone()
		item.Status = models.DeriveOverallStatus(item, s.maxRetries)
		applied = append(applied, item.Clone())
		if models.IsTerminal(item, s.maxRetries) {
			if !completedIDs[item.LocalID] {
				nextCompleted = append(nextCompleted, item)
			}
			continue
		}
		nextActive = append(nextActive, item)
	}
	s.active, s.completed = nextActive, nextCompleted
	err := s.store.WriteCollections(ctx, nextActive, nextCompleted)
	s.mu.Unlock()

	s.updateMetrics()
	if err != nil {
		return applied, fmt.Errorf("persist pass results: %w", err)
	}
	return applied, nil
}

func (s *Service) updateMetrics() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	failed := 0
	for _, group := range [][]*models.QueueItem{s.active, s.completed} {
		for _, item := range group {
			if hasFailure(item) {
				failed++
			}
		}
	}
	metrics.SetQueueSizes(len(s.active), len(s.completed), failed)
}

func (s *Service) publish(kind string, payload interface{}) {
	if err := s.bus.PublishJSON(kind, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", kind).Msg("failed to publish event")
	}
}
