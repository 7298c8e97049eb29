package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultRelayChannel   = "fieldsync:events"
	DefaultDeadLetterList = "fieldsync:deadletter"
)

// envelope is the wire format of relayed events.
type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// RedisRelay forwards bus events to a Redis channel and keeps terminal
// failures in a dead-letter list for operators.
type RedisRelay struct {
	client     *redis.Client
	channel    string
	deadLetter string
	timeout    time.Duration
	logger     *zerolog.Logger
}

func NewRedisRelay(client *redis.Client, channel, deadLetter string, logger *zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	if deadLetter == "" {
		deadLetter = DefaultDeadLetterList
	}
	l := logger.With().Str("component", "relay").Logger()
	return &RedisRelay{
		client:     client,
		channel:    channel,
		deadLetter: deadLetter,
		timeout:    2 * time.Second,
		logger:     &l,
	}
}

// Attach subscribes the relay to every event on bus.
func (r *RedisRelay) Attach(bus *EventBus) func() {
	return bus.Subscribe(Wildcard, r.Handle)
}

func (r *RedisRelay) Handle(event *Event) error {
	data, err := json.Marshal(envelope{Type: event.Type, Payload: event.Payload, CreatedAt: event.CreatedAt})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return err
	}
	if event.Type == EventItemFailed {
		if err := r.client.RPush(ctx, r.deadLetter, data).Err(); err != nil {
			return err
		}
		r.logger.Info().Str("list", r.deadLetter).Msg("terminal failure added to dead-letter list")
	}
	return nil
}

// DeadLetters returns the raw dead-letter entries, oldest first.
func (r *RedisRelay) DeadLetters(ctx context.Context) ([]string, error) {
	return r.client.LRange(ctx, r.deadLetter, 0, -1).Result()
}
