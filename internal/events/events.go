package events

import (
	"encoding/json"
	"sync"
	"time"

	"fieldsync/internal/models"

	"github.com/rs/zerolog"
)

const (
	EventItemAdded           = "item_added"
	EventItemUpdated         = "item_updated"
	EventItemFailed          = "item_failed"
	EventBatchRetryStarted   = "batch_retry_started"
	EventBatchRetryCompleted = "batch_retry_completed"
	EventQueueCleared        = "queue_cleared"

	// Wildcard subscribers receive every event type.
	Wildcard = "*"
)

// ItemEventPayload describes the queue item snapshot for event consumers.
type ItemEventPayload struct {
	LocalID         string               `json:"localId"`
	ActionName      string               `json:"actionName"`
	Status          models.ItemStatus    `json:"status"`
	Directus        models.ServiceStatus `json:"directus"`
	EAS             models.ServiceStatus `json:"eas"`
	Linking         models.ServiceStatus `json:"linking"`
	TotalRetryCount int                  `json:"totalRetryCount"`
	Error           string               `json:"error,omitempty"`
}

// NewItemEventPayload summarises item. Error carries the first sub-service error.
func NewItemEventPayload(item *models.QueueItem) ItemEventPayload {
	p := ItemEventPayload{
		LocalID:         item.LocalID,
		ActionName:      item.ActionName,
		Status:          item.Status,
		Directus:        item.Directus.Status,
		EAS:             item.EAS.Status,
		Linking:         item.Linking.Status,
		TotalRetryCount: item.TotalRetryCount,
	}
	for _, s := range models.Steps {
		if st := item.State(s); st.Error != "" {
			p.Error = string(s) + ": " + st.Error
			break
		}
	}
	return p
}

// BatchEventPayload reports the start or outcome of a sync pass.
type BatchEventPayload struct {
	Trigger    string `json:"trigger"`
	Attempted  int    `json:"attempted"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

type ClearEventPayload struct {
	Removed int `json:"removed"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus provides in-process pub/sub for events. Delivery is synchronous and
// best-effort: subscribers registered after a publish never see it.
type EventBus struct {
	subscribers map[string][]subscription
	nextID      uint64
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. logger may be nil.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "events").Logger()
	return &EventBus{subscribers: make(map[string][]subscription), logger: &l}
}

// Subscribe registers a handler for a given event type, or Wildcard for all types.
// The returned function removes the handler.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(eventType, id) })
	}
}

func (b *EventBus) unsubscribe(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[eventType]) == 0 {
		delete(b.subscribers, eventType)
	}
}

// Publish notifies subscribers of the event type, then wildcard subscribers.
func (b *EventBus) Publish(event *Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[event.Type]...)
	if event.Type != Wildcard {
		subs = append(subs, b.subscribers[Wildcard]...)
	}
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, s := range subs {
		b.deliver(s.handler, event)
	}
}

func (b *EventBus) deliver(handler EventHandler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("event", event.Type).Msg("event handler panicked")
		}
	}()
	if err := handler(event); err != nil {
		b.logger.Warn().Err(err).Str("event", event.Type).Msg("event handler failed")
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
