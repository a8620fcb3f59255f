package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carpool/internal/domain"
	"carpool/internal/repository"
)

// BookingRepository is a PostgreSQL implementation of repository.BookingRepository.
type BookingRepository struct {
	q Querier
}

// NewBookingRepository creates a new PostgreSQL booking repository.
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{q: db}
}

// NewBookingRepositoryWithTx creates a booking repository using a transaction.
func NewBookingRepositoryWithTx(tx *sql.Tx) *BookingRepository {
	return &BookingRepository{q: tx}
}

const bookingColumns = `
	id, trip_id, passenger_id, payer_ref, amount_paid, original_amount_paid, refund_total,
	payment_status, gateway_payment_id, last_refund_id, last_refund_at, paid_at,
	passenger_confirmed, confirmed_at, settled_at, cancelled_at, created_at`

func scanBooking(s scanner) (*domain.Booking, error) {
	var b domain.Booking
	var lastRefundAt, paidAt, confirmedAt, settledAt, cancelledAt sql.NullTime

	err := s.Scan(
		&b.ID,
		&b.TripID,
		&b.PassengerID,
		&b.PayerRef,
		&b.AmountPaid,
		&b.OriginalAmountPaid,
		&b.RefundTotal,
		&b.Status,
		&b.GatewayPaymentID,
		&b.LastRefundID,
		&lastRefundAt,
		&paidAt,
		&b.PassengerConfirmed,
		&confirmedAt,
		&settledAt,
		&cancelledAt,
		&b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.LastRefundAt = timeOf(lastRefundAt)
	b.PaidAt = timeOf(paidAt)
	b.ConfirmedAt = timeOf(confirmedAt)
	b.SettledAt = timeOf(settledAt)
	b.CancelledAt = timeOf(cancelledAt)
	return &b, nil
}

// Create persists a new booking.
func (r *BookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.q.ExecContext(ctx, query,
		b.ID,
		b.TripID,
		b.PassengerID,
		b.PayerRef,
		b.AmountPaid,
		b.OriginalAmountPaid,
		b.RefundTotal,
		b.Status,
		b.GatewayPaymentID,
		b.LastRefundID,
		nullTime(b.LastRefundAt),
		nullTime(b.PaidAt),
		b.PassengerConfirmed,
		nullTime(b.ConfirmedAt),
		nullTime(b.SettledAt),
		nullTime(b.CancelledAt),
		b.CreatedAt,
	)

	return err
}

// GetByID retrieves a booking by ID.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	b, err := scanBooking(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return b, nil
}

// ListByTrip retrieves all bookings of a trip.
func (r *BookingRepository) ListByTrip(ctx context.Context, tripID string) ([]*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE trip_id = $1 ORDER BY created_at, id`
	return r.list(ctx, query, tripID)
}

// ListPaidBookings retrieves completed bookings, oldest payment first.
func (r *BookingRepository) ListPaidBookings(ctx context.Context, tripID string) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE trip_id = $1 AND payment_status = $2
		ORDER BY paid_at, id
	`
	return r.list(ctx, query, tripID, domain.PaymentStatusCompleted)
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Booking, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

// Update writes status, confirmation and cancellation fields.
func (r *BookingRepository) Update(ctx context.Context, b *domain.Booking) error {
	query := `
		UPDATE bookings SET
			payment_status = $2, passenger_confirmed = $3, confirmed_at = $4, cancelled_at = $5
		WHERE id = $1
	`

	result, err := r.q.ExecContext(ctx, query,
		b.ID,
		b.Status,
		b.PassengerConfirmed,
		nullTime(b.ConfirmedAt),
		nullTime(b.CancelledAt),
	)
	if err != nil {
		return err
	}

	return expectOneRow(result, repository.ErrNotFound)
}

// RecordPayment moves a PENDING booking to COMPLETED.
func (r *BookingRepository) RecordPayment(ctx context.Context, bookingID string, amount domain.Money, gatewayPaymentID string, paidAt time.Time) error {
	query := `
		UPDATE bookings SET
			payment_status = $2, amount_paid = $3, original_amount_paid = $3,
			gateway_payment_id = $4, paid_at = $5
		WHERE id = $1 AND payment_status = $6
	`

	result, err := r.q.ExecContext(ctx, query,
		bookingID,
		domain.PaymentStatusCompleted,
		amount,
		gatewayPaymentID,
		paidAt,
		domain.PaymentStatusPending,
	)
	if err != nil {
		return err
	}

	if err := expectOneRow(result, repository.ErrInvalidTransition); err != nil {
		return r.existsOr(ctx, bookingID, err)
	}
	return nil
}

// ApplyRefundDelta moves delta from amount_paid to refund_total.
func (r *BookingRepository) ApplyRefundDelta(ctx context.Context, bookingID string, delta domain.Money, gatewayRefundID string, at time.Time) error {
	if delta <= 0 {
		return repository.ErrNegativeBalance
	}

	query := `
		UPDATE bookings SET
			amount_paid = amount_paid - $2, refund_total = refund_total + $2,
			last_refund_id = $3, last_refund_at = $4
		WHERE id = $1 AND amount_paid >= $2
	`

	result, err := r.q.ExecContext(ctx, query, bookingID, delta, gatewayRefundID, at)
	if err != nil {
		return err
	}

	if err := expectOneRow(result, repository.ErrNegativeBalance); err != nil {
		return r.existsOr(ctx, bookingID, err)
	}
	return nil
}

// MarkSettled stamps completed bookings of a trip as settled.
func (r *BookingRepository) MarkSettled(ctx context.Context, tripID string, at time.Time) error {
	query := `UPDATE bookings SET settled_at = $2 WHERE trip_id = $1 AND payment_status = $3`

	_, err := r.q.ExecContext(ctx, query, tripID, at, domain.PaymentStatusCompleted)
	return err
}

// existsOr returns ErrNotFound if the booking does not exist, otherwise err.
func (r *BookingRepository) existsOr(ctx context.Context, bookingID string, err error) error {
	var id string
	scanErr := r.q.QueryRowContext(ctx, `SELECT id FROM bookings WHERE id = $1`, bookingID).Scan(&id)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if scanErr != nil {
		return scanErr
	}
	return err
}

func expectOneRow(result sql.Result, errNone error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return errNone
	}

	return nil
}

var _ repository.BookingRepository = (*BookingRepository)(nil)
