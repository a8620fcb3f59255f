package service

import (
	"errors"

	"carpool/internal/domain"
	"carpool/internal/gateway"
	"carpool/internal/pricing"
	"carpool/internal/repository"
)

var (
	// ErrInvalidTripID is returned when trip ID is empty.
	ErrInvalidTripID = errors.New("invalid trip id")

	// ErrInvalidBookingID is returned when booking ID is empty.
	ErrInvalidBookingID = errors.New("invalid booking id")

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidPassengerID is returned when passenger ID is empty.
	ErrInvalidPassengerID = errors.New("invalid passenger id")

	// ErrInvalidPaymentID is returned when the gateway payment ID is empty.
	ErrInvalidPaymentID = errors.New("invalid payment id")

	// ErrInvalidAmount is returned when an amount is zero or negative.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrOffIncrementAmount is returned when a captured amount is not a multiple of 0.05.
	ErrOffIncrementAmount = errors.New("amount is not a multiple of the pricing increment")

	// ErrInvalidSeatCapacity is returned when a trip offers no seats.
	ErrInvalidSeatCapacity = errors.New("invalid seat capacity")

	// ErrInvalidDeparture is returned when the departure time is missing.
	ErrInvalidDeparture = errors.New("invalid departure time")

	// ErrInvalidPayerRef is returned when a booking has nothing to charge.
	ErrInvalidPayerRef = errors.New("invalid payer reference")

	// ErrIllegalTransition is returned when an event is not allowed in the trip's current state.
	ErrIllegalTransition = errors.New("illegal settlement transition")

	// ErrNoSeatsAvailable is returned when a trip is full.
	ErrNoSeatsAvailable = errors.New("no seats available")

	// ErrPriceLocked is returned when changing the price of a trip with a paid booking.
	ErrPriceLocked = errors.New("trip price is locked after the first payment")

	// ErrBookingNotPending is returned when a payment arrives for a booking that is not awaiting one.
	ErrBookingNotPending = errors.New("booking not awaiting payment")

	// ErrBookingNotPaid is returned when an operation needs a paid booking.
	ErrBookingNotPaid = errors.New("booking not paid")

	// ErrPaymentMismatch is returned when a booking is already paid by another gateway payment.
	ErrPaymentMismatch = errors.New("booking already paid with a different payment")

	// ErrTripBusy is returned when the trip lock could not be acquired in time.
	ErrTripBusy = errors.New("trip is being settled by another request")

	// ErrStaleSnapshot is returned when the paid booking set changed during reconciliation.
	ErrStaleSnapshot = errors.New("paid bookings changed during reconciliation")

	// ErrOperationInFlight is returned when a gateway operation with unknown outcome blocks a retry.
	ErrOperationInFlight = errors.New("gateway operation outcome still unknown")

	// ErrPaymentDeclined is returned when the gateway rejected a capture.
	ErrPaymentDeclined = errors.New("payment declined")

	// ErrNothingToRefund is returned when a manual refund finds no money owed.
	ErrNothingToRefund = errors.New("nothing to refund")
)

// ErrorKind groups errors by how callers should react.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindGateway       ErrorKind = "gateway"
	KindInconsistency ErrorKind = "inconsistency"
	KindInternal      ErrorKind = "internal"
)

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return KindNotFound

	case errors.Is(err, ErrInvalidTripID),
		errors.Is(err, ErrInvalidBookingID),
		errors.Is(err, ErrInvalidDriverID),
		errors.Is(err, ErrInvalidPassengerID),
		errors.Is(err, ErrInvalidPaymentID),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrOffIncrementAmount),
		errors.Is(err, ErrInvalidSeatCapacity),
		errors.Is(err, ErrInvalidDeparture),
		errors.Is(err, ErrInvalidPayerRef),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, pricing.ErrNonPositiveTotal),
		errors.Is(err, pricing.ErrNonPositiveCount),
		errors.Is(err, gateway.ErrInvalidRequest):
		return KindValidation

	case errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrNoSeatsAvailable),
		errors.Is(err, ErrPriceLocked),
		errors.Is(err, ErrBookingNotPending),
		errors.Is(err, ErrBookingNotPaid),
		errors.Is(err, ErrTripBusy),
		errors.Is(err, ErrStaleSnapshot),
		errors.Is(err, ErrOperationInFlight),
		errors.Is(err, ErrNothingToRefund),
		errors.Is(err, repository.ErrInvalidTransition),
		errors.Is(err, repository.ErrAlreadyReleased):
		return KindConflict

	case errors.Is(err, ErrPaymentDeclined),
		errors.Is(err, gateway.ErrDeclined),
		errors.Is(err, gateway.ErrNoDestination),
		errors.Is(err, gateway.ErrTimeout):
		return KindGateway

	case errors.Is(err, ErrPaymentMismatch),
		errors.Is(err, repository.ErrNegativeBalance):
		return KindInconsistency

	default:
		return KindInternal
	}
}
