package postgres

import (
	"context"
	"database/sql"

	"carpool/internal/repository"
)

// Ledger is the PostgreSQL booking ledger.
type Ledger struct {
	db *sql.DB
}

// NewLedger creates a ledger backed by db.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Stores returns repositories that run each statement on its own.
func (l *Ledger) Stores() repository.Stores {
	return repository.Stores{
		Trips:    NewTripRepository(l.db),
		Bookings: NewBookingRepository(l.db),
		Audit:    NewAuditRepository(l.db),
	}
}

// WithinTx runs fn with transaction-scoped repositories and commits if it succeeds.
func (l *Ledger) WithinTx(ctx context.Context, fn func(repository.Stores) error) (err error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Create transaction-scoped repositories.
	stores := repository.Stores{
		Trips:    NewTripRepositoryWithTx(tx),
		Bookings: NewBookingRepositoryWithTx(tx),
		Audit:    NewAuditRepositoryWithTx(tx),
	}

	if err = fn(stores); err != nil {
		return err
	}

	return tx.Commit()
}

var _ repository.Ledger = (*Ledger)(nil)
