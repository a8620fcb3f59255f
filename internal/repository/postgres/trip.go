package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carpool/internal/domain"
	"carpool/internal/repository"
)

// TripRepository is a PostgreSQL implementation of repository.TripRepository.
type TripRepository struct {
	q Querier
}

// NewTripRepository creates a new PostgreSQL trip repository.
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{q: db}
}

// NewTripRepositoryWithTx creates a trip repository using a transaction.
func NewTripRepositoryWithTx(tx *sql.Tx) *TripRepository {
	return &TripRepository{q: tx}
}

const tripColumns = `
	id, driver_id, payout_destination, seat_capacity, seats_available, total_price, currency,
	departure_at, published, cancelled, settlement_state, driver_confirmed, funds_released,
	driver_payout_amount, commission_amount, payout_batch_id, payout_attempts, released_at,
	review_required, review_reason, paid_version, created_at, updated_at`

func scanTrip(s scanner) (*domain.Trip, error) {
	var trip domain.Trip
	var releasedAt sql.NullTime

	err := s.Scan(
		&trip.ID,
		&trip.DriverID,
		&trip.PayoutDestination,
		&trip.SeatCapacity,
		&trip.SeatsAvailable,
		&trip.TotalPrice,
		&trip.Currency,
		&trip.DepartureAt,
		&trip.Published,
		&trip.Cancelled,
		&trip.State,
		&trip.DriverConfirmed,
		&trip.FundsReleased,
		&trip.DriverPayoutAmount,
		&trip.CommissionAmount,
		&trip.PayoutBatchID,
		&trip.PayoutAttempts,
		&releasedAt,
		&trip.ReviewRequired,
		&trip.ReviewReason,
		&trip.PaidVersion,
		&trip.CreatedAt,
		&trip.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	trip.ReleasedAt = timeOf(releasedAt)
	return &trip, nil
}

// Create persists a new trip.
func (r *TripRepository) Create(ctx context.Context, trip *domain.Trip) error {
	query := `
		INSERT INTO trips (` + tripColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`

	_, err := r.q.ExecContext(ctx, query,
		trip.ID,
		trip.DriverID,
		trip.PayoutDestination,
		trip.SeatCapacity,
		trip.SeatsAvailable,
		trip.TotalPrice,
		trip.Currency,
		trip.DepartureAt,
		trip.Published,
		trip.Cancelled,
		trip.State,
		trip.DriverConfirmed,
		trip.FundsReleased,
		trip.DriverPayoutAmount,
		trip.CommissionAmount,
		trip.PayoutBatchID,
		trip.PayoutAttempts,
		nullTime(trip.ReleasedAt),
		trip.ReviewRequired,
		trip.ReviewReason,
		trip.PaidVersion,
		trip.CreatedAt,
		trip.UpdatedAt,
	)

	return err
}

// GetByID retrieves a trip by ID.
func (r *TripRepository) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	return r.get(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
}

// GetForUpdate retrieves a trip and locks its row for the rest of the transaction.
func (r *TripRepository) GetForUpdate(ctx context.Context, id string) (*domain.Trip, error) {
	return r.get(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1 FOR UPDATE`, id)
}

func (r *TripRepository) get(ctx context.Context, query, id string) (*domain.Trip, error) {
	trip, err := scanTrip(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return trip, nil
}

// Update updates an existing trip. Funds release is stamped only through MarkFundsReleased.
func (r *TripRepository) Update(ctx context.Context, trip *domain.Trip) error {
	query := `
		UPDATE trips SET
			payout_destination = $2, seats_available = $3, total_price = $4, departure_at = $5,
			published = $6, cancelled = $7, settlement_state = $8, driver_confirmed = $9,
			payout_attempts = $10, review_required = $11, review_reason = $12,
			paid_version = $13, updated_at = $14
		WHERE id = $1
	`

	result, err := r.q.ExecContext(ctx, query,
		trip.ID,
		trip.PayoutDestination,
		trip.SeatsAvailable,
		trip.TotalPrice,
		trip.DepartureAt,
		trip.Published,
		trip.Cancelled,
		trip.State,
		trip.DriverConfirmed,
		trip.PayoutAttempts,
		trip.ReviewRequired,
		trip.ReviewReason,
		trip.PaidVersion,
		trip.UpdatedAt,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ListDepartedAwaitingPayments returns departed trips still awaiting payments
// that hold a paid booking or a capture with unknown outcome. Offers nobody
// paid for can never advance and are left out.
func (r *TripRepository) ListDepartedAwaitingPayments(ctx context.Context, before time.Time, limit int) ([]*domain.Trip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE settlement_state = $1 AND departure_at <= $2
		  AND (
			EXISTS (SELECT 1 FROM bookings b WHERE b.trip_id = trips.id AND b.payment_status = $3)
			OR EXISTS (SELECT 1 FROM settlement_audit a WHERE a.trip_id = trips.id AND a.operation = $4 AND a.outcome = $5)
		  )
		ORDER BY departure_at
		LIMIT $6
	`

	rows, err := r.q.QueryContext(ctx, query,
		domain.SettlementAwaitingPayments, before,
		domain.PaymentStatusCompleted,
		domain.OperationCapture, domain.OutcomePending,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*domain.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}

	return trips, rows.Err()
}

// MarkFundsReleased stamps the settlement exactly once.
func (r *TripRepository) MarkFundsReleased(ctx context.Context, tripID string, s domain.Settlement) error {
	query := `
		UPDATE trips SET
			funds_released = TRUE, driver_payout_amount = $2, commission_amount = $3,
			payout_batch_id = $4, released_at = $5, settlement_state = $6, updated_at = $5
		WHERE id = $1 AND funds_released = FALSE
	`

	result, err := r.q.ExecContext(ctx, query,
		tripID,
		s.DriverAmount,
		s.CommissionAmount,
		s.PayoutBatchID,
		s.ReleasedAt,
		domain.SettlementFundsReleased,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 1 {
		return nil
	}

	var released bool
	err = r.q.QueryRowContext(ctx, `SELECT funds_released FROM trips WHERE id = $1`, tripID).Scan(&released)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}

	return repository.ErrAlreadyReleased
}

var _ repository.TripRepository = (*TripRepository)(nil)
