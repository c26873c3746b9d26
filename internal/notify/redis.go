package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the pub/sub channel events are handed off on.
const DefaultChannel = "ledger:notifications"

// RedisPublisher hands events to the delivery system over a redis pub/sub
// channel, one message per event, sent in a single pipeline.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher creates a publisher on channel, or DefaultChannel when empty.
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Notify implements Notifier.
func (p *RedisPublisher) Notify(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	pipe := p.client.Pipeline()
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("Notify: marshal event %s: %w", e.CorrelationID, err)
		}
		pipe.Publish(ctx, p.channel, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("Notify: publish %d events: %w", len(events), err)
	}
	return nil
}

// Relay subscribes to channel and forwards every event it receives to next,
// one event per call, until ctx is cancelled. Malformed messages are logged
// and dropped.
func Relay(ctx context.Context, client redis.UniversalClient, channel string, next Notifier, log zerolog.Logger) error {
	if channel == "" {
		channel = DefaultChannel
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reading messages.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("Relay: subscribe %s: %w", channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				log.Warn().Err(err).Str("channel", channel).Msg("dropping malformed notification")
				continue
			}
			if err := next.Notify(ctx, []Event{e}); err != nil {
				log.Error().Err(err).Str("correlation_id", e.CorrelationID).Msg("relay delivery failed")
			}
		}
	}
}
