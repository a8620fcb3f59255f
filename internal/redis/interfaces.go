package redis

import (
	"context"
	"time"
)

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquireTripLock(ctx context.Context, tripID string, ttl time.Duration) (string, bool, error)
	ReleaseTripLock(ctx context.Context, tripID, token string) error
}

// EventStoreInterface defines the interface for inbound event de-duplication.
type EventStoreInterface interface {
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// CacheStoreInterface defines the interface for the trip summary cache.
type CacheStoreInterface interface {
	GetTripSummary(ctx context.Context, tripID string) (*CachedTripSummary, error)
	SetTripSummary(ctx context.Context, summary *CachedTripSummary) error
	InvalidateTrip(ctx context.Context, tripID string) error
}

// Ensure concrete types implement interfaces.
var (
	_ LockStoreInterface  = (*LockStore)(nil)
	_ EventStoreInterface = (*EventStore)(nil)
	_ CacheStoreInterface = (*CacheStore)(nil)
)
