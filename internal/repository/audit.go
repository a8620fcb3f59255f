package repository

import (
	"context"

	"carpool/internal/domain"
)

// AuditRepository is the append-only log of money-moving operations.
type AuditRepository interface {
	// Append adds a new entry.
	// Returns ErrDuplicateKey if the idempotency key was already used.
	Append(ctx context.Context, entry *domain.AuditEntry) error

	// GetByIdempotencyKey retrieves an entry by its idempotency key.
	// Returns nil if no entry exists with the given key.
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.AuditEntry, error)

	// ListByBooking retrieves the entries of a booking, oldest first.
	ListByBooking(ctx context.Context, bookingID string) ([]*domain.AuditEntry, error)

	// ListByTrip retrieves the entries of a trip, oldest first.
	ListByTrip(ctx context.Context, tripID string) ([]*domain.AuditEntry, error)

	// ListPendingByTrip retrieves the entries of a trip whose outcome is not yet known.
	ListPendingByTrip(ctx context.Context, tripID string) ([]*domain.AuditEntry, error)

	// LatestPayout retrieves the most recent payout entry of a trip.
	// Returns nil if no payout was attempted.
	LatestPayout(ctx context.Context, tripID string) (*domain.AuditEntry, error)

	// Finalize records the outcome of a PENDING entry.
	// Returns ErrAlreadyFinal if the entry is not PENDING.
	Finalize(ctx context.Context, id string, outcome domain.Outcome, gatewayRef, failureReason string) error
}
