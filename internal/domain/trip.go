package domain

import "time"

// SettlementState is the position of a trip in the settlement lifecycle.
type SettlementState string

const (
	SettlementAwaitingPayments         SettlementState = "AWAITING_PAYMENTS"
	SettlementAwaitingCompletion       SettlementState = "AWAITING_COMPLETION"
	SettlementAwaitingDualConfirmation SettlementState = "AWAITING_DUAL_CONFIRMATION"
	SettlementPayoutPendingManual      SettlementState = "PAYOUT_PENDING_MANUAL"
	SettlementFundsReleased            SettlementState = "FUNDS_RELEASED"
	SettlementDriverCancelled          SettlementState = "DRIVER_CANCELLED"
	SettlementRefunding                SettlementState = "REFUNDING"
	SettlementRefunded                 SettlementState = "REFUNDED"
)

// allowedTransitions lists the legal next states for every settlement state.
var allowedTransitions = map[SettlementState][]SettlementState{
	SettlementAwaitingPayments: {
		SettlementAwaitingCompletion,
		SettlementDriverCancelled,
	},
	SettlementAwaitingCompletion: {
		SettlementAwaitingDualConfirmation,
		SettlementDriverCancelled,
	},
	SettlementAwaitingDualConfirmation: {
		SettlementFundsReleased,
		SettlementPayoutPendingManual,
		SettlementDriverCancelled,
	},
	SettlementPayoutPendingManual: {
		SettlementFundsReleased,
	},
	SettlementDriverCancelled: {
		SettlementRefunding,
		SettlementRefunded,
	},
	SettlementRefunding: {
		SettlementRefunded,
	},
}

// Valid reports whether s is one of the declared states.
func (s SettlementState) Valid() bool {
	switch s {
	case SettlementAwaitingPayments, SettlementAwaitingCompletion, SettlementAwaitingDualConfirmation,
		SettlementPayoutPendingManual, SettlementFundsReleased, SettlementDriverCancelled,
		SettlementRefunding, SettlementRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s SettlementState) Terminal() bool {
	return s == SettlementFundsReleased || s == SettlementRefunded
}

// Cancelled reports whether the driver has cancelled the trip.
func (s SettlementState) Cancelled() bool {
	return s == SettlementDriverCancelled || s == SettlementRefunding || s == SettlementRefunded
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to SettlementState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Trip is a ride offer with a fixed total price shared by its paying passengers.
type Trip struct {
	ID                 string
	DriverID           string
	PayoutDestination  string // gateway recipient id for the driver
	SeatCapacity       int
	SeatsAvailable     int
	TotalPrice         Money
	Currency           string
	DepartureAt        time.Time
	Published          bool
	Cancelled          bool
	State              SettlementState
	DriverConfirmed    bool
	FundsReleased      bool
	DriverPayoutAmount Money
	CommissionAmount   Money
	PayoutBatchID      string
	PayoutAttempts     int
	ReleasedAt         time.Time
	ReviewRequired     bool
	ReviewReason       string
	PaidVersion        int64 // bumped whenever the paid booking set changes
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TransitionTo moves the trip to the next state if the move is legal.
func (t *Trip) TransitionTo(next SettlementState) bool {
	if !CanTransition(t.State, next) {
		return false
	}
	t.State = next
	return true
}

// Departed reports whether the departure time has passed.
func (t *Trip) Departed(now time.Time) bool {
	return !t.DepartureAt.IsZero() && !now.Before(t.DepartureAt)
}

// FlagForReview marks the trip for manual review.
func (t *Trip) FlagForReview(reason string) {
	t.ReviewRequired = true
	t.ReviewReason = reason
}

// Settlement is the driver/commission split stamped once funds are released.
type Settlement struct {
	DriverAmount     Money
	CommissionAmount Money
	PayoutBatchID    string
	ReleasedAt       time.Time
}
