package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"fieldsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus(nil)

	var received *Event
	var callCount int

	bus.Subscribe("test_event", func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON("test_event", map[string]string{"foo": "bar"})
	require.NoError(t, err)

	assert.Equal(t, 1, callCount)
	assert.Equal(t, "test_event", received.Type)
	assert.False(t, received.CreatedAt.IsZero())

	var decoded map[string]string
	require.NoError(t, received.Decode(&decoded))
	assert.Equal(t, "bar", decoded["foo"])
}

func TestEventBusMultipleSubscribersAndWildcard(t *testing.T) {
	bus := NewEventBus(nil)
	var count1, count2, wildcard int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })
	bus.Subscribe(Wildcard, func(_ *Event) error { wildcard++; return nil })

	bus.Publish(&Event{Type: "event"})
	bus.Publish(&Event{Type: "other"})

	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2)
	assert.Equal(t, 2, wildcard)
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(nil)
	var count int

	unsubscribe := bus.Subscribe(EventItemAdded, func(_ *Event) error { count++; return nil })
	bus.Publish(&Event{Type: EventItemAdded})
	unsubscribe()
	unsubscribe()
	bus.Publish(&Event{Type: EventItemAdded})

	assert.Equal(t, 1, count)
}

func TestEventBusHandlerFailuresDoNotStopDelivery(t *testing.T) {
	bus := NewEventBus(nil)
	var delivered bool

	bus.Subscribe("event", func(_ *Event) error { panic("boom") })
	bus.Subscribe("event", func(_ *Event) error { return errors.New("nope") })
	bus.Subscribe("event", func(_ *Event) error { delivered = true; return nil })

	assert.NotPanics(t, func() { bus.Publish(&Event{Type: "event"}) })
	assert.True(t, delivered)
}

func TestEventBusLateSubscriberMissesEarlierEvents(t *testing.T) {
	bus := NewEventBus(nil)
	bus.Publish(&Event{Type: "event"})

	var count int
	bus.Subscribe("event", func(_ *Event) error { count++; return nil })
	assert.Equal(t, 0, count)
}

func TestEventBusNilSafe(t *testing.T) {
	var bus *EventBus
	assert.NoError(t, bus.PublishJSON("event", nil))
}

func TestPublishJSONMarshalError(t *testing.T) {
	bus := NewEventBus(nil)
	err := bus.PublishJSON("event", make(chan int))
	assert.Error(t, err)
}

func TestNewItemEventPayload(t *testing.T) {
	item := models.NewQueueItem(models.Action{ID: 2, Name: "Sorting"}, time.Now())
	item.Directus.Status = models.ServiceCompleted
	item.EAS = models.ServiceState{Status: models.ServiceFailed, Error: "timeout"}
	item.TotalRetryCount = 2

	p := NewItemEventPayload(item)
	assert.Equal(t, item.LocalID, p.LocalID)
	assert.Equal(t, "Sorting", p.ActionName)
	assert.Equal(t, models.ServiceFailed, p.EAS)
	assert.Equal(t, "eas: timeout", p.Error)
	assert.Equal(t, 2, p.TotalRetryCount)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"localId"`)
}
