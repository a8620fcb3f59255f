package repository

import "context"

// Stores groups the repositories that make up the booking ledger.
type Stores struct {
	Trips    TripRepository
	Bookings BookingRepository
	Audit    AuditRepository
}

// UnitOfWork runs a function against stores bound to one transaction.
// If fn returns an error nothing it wrote is kept.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(Stores) error) error
}

// Ledger is the authoritative record of trips, bookings and money movements.
type Ledger interface {
	UnitOfWork

	// Stores returns repositories that are not bound to a transaction.
	Stores() Stores
}
