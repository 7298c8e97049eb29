package worker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"fieldsync/internal/domain"
	"fieldsync/internal/models"
)

type memQueue struct {
	mu         sync.Mutex
	active     []*models.QueueItem
	completed  []*models.QueueItem
	processing []string
	writes     int
	// writeErr is the state of the context ApplyResults was last given.
	writeErr error
}

func newMemQueue(items ...*models.QueueItem) *memQueue {
	return &memQueue{active: items}
}

func (q *memQueue) ActiveSnapshot() []*models.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return models.CloneItems(q.active)
}

func (q *memQueue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

func (q *memQueue) MarkProcessing(ids []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing = append(q.processing, ids...)
}

func (q *memQueue) ApplyResults(ctx context.Context, results []*models.QueueItem) ([]*models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.writes++
	q.writeErr = ctx.Err()
	byID := make(map[string]*models.QueueItem)
	for _, r := range results {
		byID[r.LocalID] = r.Clone()
	}
	var next []*models.QueueItem
	var applied []*models.QueueItem
	for _, it := range q.active {
		r, ok := byID[it.LocalID]
		if !ok {
			next = append(next, it)
			continue
		}
		applied = append(applied, r.Clone())
		if r.Status == models.ItemCompleted || r.Status == models.ItemFailed {
			q.completed = append(q.completed, r)
			continue
		}
		next = append(next, r)
	}
	q.active = next
	return applied, nil
}

func (q *memQueue) find(id string) *models.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, group := range [][]*models.QueueItem{q.active, q.completed} {
		for _, it := range group {
			if it.LocalID == id {
				return it.Clone()
			}
		}
	}
	return nil
}

// fakeDownstream implements every client interface with per-step hooks.
type fakeDownstream struct {
	mu     sync.Mutex
	calls  map[string]int
	order  map[string][]string
	submit func(item *models.QueueItem) (string, error)
	// submitCtx takes precedence over submit for hooks that need the call context.
	submitCtx func(ctx context.Context, item *models.QueueItem) (string, error)
	attest func(item *models.QueueItem) (*domain.Attestation, error)
	sign   func() error
	link   func(recordID, uid string) error
}

func newFakeDownstream() *fakeDownstream {
	return &fakeDownstream{calls: make(map[string]int), order: make(map[string][]string)}
}

func (f *fakeDownstream) record(localID, step string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[step]++
	f.order[localID] = append(f.order[localID], step)
}

func (f *fakeDownstream) count(step string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[step]
}

func (f *fakeDownstream) steps(localID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order[localID]...)
}

func (f *fakeDownstream) SubmitEvent(ctx context.Context, item *models.QueueItem) (string, error) {
	f.record(item.LocalID, "directus")
	if f.submitCtx != nil {
		return f.submitCtx(ctx, item)
	}
	if f.submit != nil {
		return f.submit(item)
	}
	return "rec-" + item.LocalID, nil
}

func (f *fakeDownstream) Payload(item *models.QueueItem) ([]byte, error) {
	return json.Marshal(map[string]string{"localId": item.LocalID})
}

func (f *fakeDownstream) Attest(_ context.Context, item *models.QueueItem, _ domain.Signature) (*domain.Attestation, error) {
	f.record(item.LocalID, "eas")
	if f.attest != nil {
		return f.attest(item)
	}
	return &domain.Attestation{UID: "uid-" + item.LocalID, TxHash: "tx"}, nil
}

func (f *fakeDownstream) Sign(_ context.Context, _ []byte) (domain.Signature, error) {
	if f.sign != nil {
		if err := f.sign(); err != nil {
			return domain.Signature{}, err
		}
	}
	return domain.Signature{Signature: "sig", Address: "addr"}, nil
}

func (f *fakeDownstream) LinkAttestation(_ context.Context, recordID, uid string) error {
	f.mu.Lock()
	f.calls["linking"]++
	f.mu.Unlock()
	if f.link != nil {
		return f.link(recordID, uid)
	}
	return nil
}

func (f *fakeDownstream) clients() Clients {
	return Clients{Database: f, Attester: f, Signer: f, Linker: f}
}

type fakeHealth struct {
	mu       sync.Mutex
	directus bool
	eas      bool
	marked   []models.Service
}

func (h *fakeHealth) Healthy(s models.Service) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s == models.ServiceEAS {
		return h.eas
	}
	return h.directus
}

func (h *fakeHealth) AllHealthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.directus && h.eas
}

func (h *fakeHealth) MarkHealthy(s models.Service) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.marked = append(h.marked, s)
}

// fakeDevice can be flipped from inside a downstream hook while a pass runs.
type fakeDevice struct {
	online, foreground atomic.Bool
}

func newFakeDevice() *fakeDevice {
	d := &fakeDevice{}
	d.online.Store(true)
	d.foreground.Store(true)
	return d
}

func (d *fakeDevice) Online() bool     { return d.online.Load() }
func (d *fakeDevice) Foreground() bool { return d.foreground.Load() }

type recordedEvent struct {
	kind    string
	payload []byte
}

type fakeBus struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *fakeBus) PublishJSON(kind string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{kind: kind, payload: raw})
	return nil
}

func (b *fakeBus) kinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.kind
	}
	return out
}

func newItem(date time.Time) *models.QueueItem {
	return models.NewQueueItem(models.Action{ID: 1, Name: "Beach cleanup"}, date)
}
