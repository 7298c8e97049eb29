package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"fieldsync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, DefaultRelayChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	logger := zerolog.Nop()
	bus := NewEventBus(&logger)
	relay := NewRedisRelay(client, "", "", &logger)
	detach := relay.Attach(bus)
	defer detach()

	item := models.NewQueueItem(models.Action{ID: 1, Name: "Prevention"}, time.Now())
	require.NoError(t, bus.PublishJSON(EventItemAdded, NewItemEventPayload(item)))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	assert.Equal(t, EventItemAdded, env.Type)

	letters, err := relay.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Empty(t, letters)

	item.Status = models.ItemFailed
	require.NoError(t, bus.PublishJSON(EventItemFailed, NewItemEventPayload(item)))

	letters, err = relay.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Contains(t, letters[0], item.LocalID)
}
