package repository

import (
	"context"
	"time"

	"carpool/internal/domain"
)

// TripRepository defines the persistence operations for trips.
type TripRepository interface {
	// Create persists a new trip.
	Create(ctx context.Context, trip *domain.Trip) error

	// GetByID retrieves a trip by ID.
	GetByID(ctx context.Context, id string) (*domain.Trip, error)

	// GetForUpdate retrieves a trip and, inside a transaction, locks its row
	// until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Trip, error)

	// Update updates an existing trip.
	Update(ctx context.Context, trip *domain.Trip) error

	// ListDepartedAwaitingPayments returns trips still awaiting payments whose
	// departure time is at or before the given time.
	ListDepartedAwaitingPayments(ctx context.Context, before time.Time, limit int) ([]*domain.Trip, error)

	// MarkFundsReleased stamps the settlement on a trip exactly once.
	// Returns ErrAlreadyReleased if funds were released before.
	MarkFundsReleased(ctx context.Context, tripID string, s domain.Settlement) error
}
