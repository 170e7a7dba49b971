package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "ratebook.events"

// Ensure RedisPublisher implements the interface.
var _ driven.EventPublisher = (*RedisPublisher)(nil)

// RedisPublisher sends events as JSON with PUBLISH.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher creates a publisher on channel.
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Channel returns the pub/sub channel events are sent to.
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Publish implements driven.EventPublisher.
func (p *RedisPublisher) Publish(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.Type, p.channel, err)
	}
	return nil
}

// Listen subscribes to channel and calls handler for every event until ctx
// is done. Messages that do not decode are skipped.
func Listen(ctx context.Context, client redis.UniversalClient, channel string, handler Handler) error {
	if channel == "" {
		channel = DefaultChannel
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			handler(event)
		}
	}
}
