package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProcessedEventTTL is how long an inbound event id is remembered.
const ProcessedEventTTL = 7 * 24 * time.Hour

const processedEventPrefix = "event:processed:"

// EventStore remembers which inbound gateway events were already handled.
type EventStore struct {
	client *redis.Client
}

// NewEventStore creates a new EventStore.
func NewEventStore(client *redis.Client) *EventStore {
	return &EventStore{client: client}
}

// MarkProcessed records the event id and reports whether this is its first delivery.
func (s *EventStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	return s.client.SetNX(ctx, processedEventPrefix+eventID, time.Now().UTC().Format(time.RFC3339), ProcessedEventTTL).Result()
}

// Forget removes the marker so a failed event can be handled again on redelivery.
func (s *EventStore) Forget(ctx context.Context, eventID string) error {
	return s.client.Del(ctx, processedEventPrefix+eventID).Err()
}
