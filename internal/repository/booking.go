package repository

import (
	"context"
	"time"

	"carpool/internal/domain"
)

// BookingRepository defines the persistence operations for bookings.
type BookingRepository interface {
	// Create persists a new booking.
	Create(ctx context.Context, booking *domain.Booking) error

	// GetByID retrieves a booking by ID.
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// ListByTrip retrieves all bookings of a trip, oldest first.
	ListByTrip(ctx context.Context, tripID string) ([]*domain.Booking, error)

	// ListPaidBookings retrieves the COMPLETED bookings of a trip ordered by
	// payment time, oldest payer first.
	ListPaidBookings(ctx context.Context, tripID string) ([]*domain.Booking, error)

	// Update updates the mutable flags of a booking (status, confirmation,
	// cancellation). Money columns are only changed through RecordPayment and
	// ApplyRefundDelta.
	Update(ctx context.Context, booking *domain.Booking) error

	// RecordPayment moves a PENDING booking to COMPLETED and sets both
	// amount_paid and original_amount_paid.
	// Returns ErrInvalidTransition if the booking is not PENDING.
	RecordPayment(ctx context.Context, bookingID string, amount domain.Money, gatewayPaymentID string, paidAt time.Time) error

	// ApplyRefundDelta moves delta from amount_paid to refund_total.
	// Returns ErrNegativeBalance if amount_paid is smaller than delta.
	ApplyRefundDelta(ctx context.Context, bookingID string, delta domain.Money, gatewayRefundID string, at time.Time) error

	// MarkSettled stamps every COMPLETED booking of a trip as settled.
	MarkSettled(ctx context.Context, tripID string, at time.Time) error
}
