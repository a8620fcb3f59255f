package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carpool/internal/domain"
	"carpool/internal/repository"
)

// AuditRepository is a PostgreSQL implementation of repository.AuditRepository.
type AuditRepository struct {
	q Querier
}

// NewAuditRepository creates a new PostgreSQL audit repository.
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{q: db}
}

// NewAuditRepositoryWithTx creates an audit repository using a transaction.
func NewAuditRepositoryWithTx(tx *sql.Tx) *AuditRepository {
	return &AuditRepository{q: tx}
}

const auditColumns = `
	id, trip_id, COALESCE(booking_id, ''), operation, amount, idempotency_key, trigger,
	outcome, gateway_ref, parent_ref, failure_reason, created_at, updated_at`

func scanAudit(s scanner) (*domain.AuditEntry, error) {
	var e domain.AuditEntry
	err := s.Scan(
		&e.ID,
		&e.TripID,
		&e.BookingID,
		&e.Operation,
		&e.Amount,
		&e.IdempotencyKey,
		&e.Trigger,
		&e.Outcome,
		&e.GatewayRef,
		&e.ParentRef,
		&e.FailureReason,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Append adds an entry. A reused idempotency key is reported as ErrDuplicateKey.
func (r *AuditRepository) Append(ctx context.Context, e *domain.AuditEntry) error {
	query := `
		INSERT INTO settlement_audit (
			id, trip_id, booking_id, operation, amount, idempotency_key, trigger,
			outcome, gateway_ref, parent_ref, failure_reason, created_at, updated_at
		)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	result, err := r.q.ExecContext(ctx, query,
		e.ID,
		e.TripID,
		e.BookingID,
		e.Operation,
		e.Amount,
		e.IdempotencyKey,
		e.Trigger,
		e.Outcome,
		e.GatewayRef,
		e.ParentRef,
		e.FailureReason,
		e.CreatedAt,
	)
	if err != nil {
		return err
	}

	return expectOneRow(result, repository.ErrDuplicateKey)
}

// GetByIdempotencyKey retrieves an entry by key. Returns nil if none exists.
func (r *AuditRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM settlement_audit WHERE idempotency_key = $1`

	e, err := scanAudit(r.q.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// ListByBooking retrieves the entries of a booking.
func (r *AuditRepository) ListByBooking(ctx context.Context, bookingID string) ([]*domain.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM settlement_audit WHERE booking_id = $1 ORDER BY created_at, id`
	return r.list(ctx, query, bookingID)
}

// ListByTrip retrieves the entries of a trip.
func (r *AuditRepository) ListByTrip(ctx context.Context, tripID string) ([]*domain.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM settlement_audit WHERE trip_id = $1 ORDER BY created_at, id`
	return r.list(ctx, query, tripID)
}

// ListPendingByTrip retrieves the unresolved entries of a trip.
func (r *AuditRepository) ListPendingByTrip(ctx context.Context, tripID string) ([]*domain.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM settlement_audit
		WHERE trip_id = $1 AND outcome = $2
		ORDER BY created_at, id
	`
	return r.list(ctx, query, tripID, domain.OutcomePending)
}

// LatestPayout retrieves the most recent payout entry. Returns nil if none exists.
func (r *AuditRepository) LatestPayout(ctx context.Context, tripID string) (*domain.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM settlement_audit
		WHERE trip_id = $1 AND operation = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	e, err := scanAudit(r.q.QueryRowContext(ctx, query, tripID, domain.OperationPayout))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// Finalize records the outcome of a pending entry.
func (r *AuditRepository) Finalize(ctx context.Context, id string, outcome domain.Outcome, gatewayRef, failureReason string) error {
	query := `
		UPDATE settlement_audit SET
			outcome = $2, gateway_ref = $3, failure_reason = $4, updated_at = $5
		WHERE id = $1 AND outcome = $6
	`

	result, err := r.q.ExecContext(ctx, query, id, outcome, gatewayRef, failureReason, time.Now().UTC(), domain.OutcomePending)
	if err != nil {
		return err
	}

	return expectOneRow(result, repository.ErrAlreadyFinal)
}

func (r *AuditRepository) list(ctx context.Context, query string, args ...any) ([]*domain.AuditEntry, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

var _ repository.AuditRepository = (*AuditRepository)(nil)
