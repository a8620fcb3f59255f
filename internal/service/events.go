package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"carpool/internal/domain"
	"carpool/internal/repository"
)

// PaymentCompleted is a gateway notification that a booking was paid.
type PaymentCompleted struct {
	BookingID string
	PaymentID string
	Amount    domain.Money
}

// PaymentStatus values reported by payment operations.
const (
	PaymentRecorded   = "RECORDED"
	PaymentDuplicate  = "DUPLICATE"
	PaymentLateRefund = "REFUNDED_LATE"
	PaymentPending    = "PENDING"
)

// PaymentResult reports the effect of a payment on a trip.
type PaymentResult struct {
	BookingID string           `json:"booking_id"`
	TripID    string           `json:"trip_id"`
	PaymentID string           `json:"payment_id,omitempty"`
	Amount    domain.Money     `json:"amount"`
	Status    string           `json:"status"`
	Reconcile *ReconcileResult `json:"reconcile,omitempty"`
	Refunds   []RefundOutcome  `json:"refunds,omitempty"`
}

// openForPayment reports whether a trip still accepts passengers' money.
func openForPayment(state domain.SettlementState) bool {
	switch state {
	case domain.SettlementAwaitingPayments, domain.SettlementAwaitingCompletion, domain.SettlementAwaitingDualConfirmation:
		return true
	}
	return false
}

// OnPaymentCompleted records a captured payment and reconciles the trip.
// Redelivery of the same payment is a no-op. A payment that arrives after
// the trip closed is recorded and refunded in full.
func (s *SettlementService) OnPaymentCompleted(ctx context.Context, evt PaymentCompleted) (*PaymentResult, error) {
	if evt.PaymentID == "" {
		return nil, ErrInvalidPaymentID
	}
	if evt.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	// Shares are computed in increments; an odd cent would end up with the driver.
	if !s.pricing.OnIncrement(evt.Amount) {
		return nil, ErrOffIncrementAmount
	}
	booking, err := s.loadBooking(ctx, evt.BookingID)
	if err != nil {
		return nil, err
	}

	result := &PaymentResult{
		BookingID: booking.ID,
		TripID:    booking.TripID,
		PaymentID: evt.PaymentID,
		Amount:    evt.Amount,
	}

	err = s.withTripLock(ctx, booking.TripID, "OnPaymentCompleted", func(ctx context.Context) error {
		s.resolve(ctx, booking.TripID)

		var duplicate, closed, orphan bool
		var recorded *domain.Booking

		err := s.ledger.WithinTx(ctx, func(st repository.Stores) error {
			duplicate, closed, orphan, recorded = false, false, false, nil

			trip, err := st.Trips.GetForUpdate(ctx, booking.TripID)
			if err != nil {
				return err
			}
			b, err := st.Bookings.GetByID(ctx, evt.BookingID)
			if err != nil {
				return err
			}

			switch b.Status {
			case domain.PaymentStatusCompleted:
				if b.GatewayPaymentID != evt.PaymentID {
					return ErrPaymentMismatch
				}
				duplicate = true
				return nil
			case domain.PaymentStatusCancelled, domain.PaymentStatusRefunded:
				if b.GatewayPaymentID == evt.PaymentID {
					duplicate = true
					return nil
				}
				if b.GatewayPaymentID != "" {
					orphan = true
					return nil
				}
				// Cancelled before paying: record the money so it can be returned.
				b.Status = domain.PaymentStatusPending
				if err := st.Bookings.Update(ctx, b); err != nil {
					return err
				}
				closed = true
			}

			now := s.clock()
			if err := s.recordCapture(ctx, st, trip, b, evt.PaymentID, evt.Amount); err != nil {
				return err
			}

			if closed || !openForPayment(trip.State) {
				closed = true
				b, err = st.Bookings.GetByID(ctx, b.ID)
				if err != nil {
					return err
				}
				b.Status = domain.PaymentStatusCancelled
				b.CancelledAt = now
				if err := st.Bookings.Update(ctx, b); err != nil {
					return err
				}
			}

			recorded = b
			trip.UpdatedAt = now
			return st.Trips.Update(ctx, trip)
		})
		if err != nil {
			return err
		}

		switch {
		case orphan:
			reason := fmt.Sprintf("payment %s of %s arrived for booking %s which is no longer awaiting payment", evt.PaymentID, evt.Amount, evt.BookingID)
			log.Printf("[SETTLEMENT] %s", reason)
			_ = s.notifier.NotifySettlementFailed(ctx, SettlementFailure{TripID: booking.TripID, BookingID: booking.ID, Reason: reason})
			return ErrBookingNotPending

		case duplicate:
			result.Status = PaymentDuplicate
			// Finish a reconciliation an earlier delivery may have left undone.
			rec, err := s.reconciler.Reconcile(ctx, booking.TripID, "paid:"+booking.ID)
			if err != nil {
				return err
			}
			result.Reconcile = rec
			return nil

		case closed:
			result.Status = PaymentLateRefund
			log.Printf("[SETTLEMENT] payment on closed trip, refunding: trip=%s booking=%s", booking.TripID, booking.ID)
			outcomes, err := s.mover.refund(ctx, booking.TripID, noSnapshot, []refundIntent{{
				booking: recorded,
				amount:  evt.Amount,
				trigger: "trip_closed",
			}})
			if err != nil {
				return err
			}
			result.Refunds = outcomes
			return s.updateRefundState(ctx, booking.TripID)
		}

		result.Status = PaymentRecorded
		log.Printf("[SETTLEMENT] payment recorded: trip=%s booking=%s amount=%s", booking.TripID, booking.ID, evt.Amount)

		rec, err := s.reconciler.Reconcile(ctx, booking.TripID, "paid:"+booking.ID)
		if err != nil {
			return err
		}
		result.Reconcile = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// recordCapture records a successful capture on a pending booking inside a
// transaction. A pending capture entry for the booking is finalized with the
// payment; otherwise a new entry keyed by the payment id is written.
func (s *SettlementService) recordCapture(ctx context.Context, st repository.Stores, trip *domain.Trip, b *domain.Booking, paymentID string, amount domain.Money) error {
	now := s.clock()

	pending, err := st.Audit.ListPendingByTrip(ctx, trip.ID)
	if err != nil {
		return err
	}
	finalized := false
	for _, e := range pending {
		if e.Operation == domain.OperationCapture && e.BookingID == b.ID {
			if err := st.Audit.Finalize(ctx, e.ID, domain.OutcomeSucceeded, paymentID, ""); err != nil {
				return err
			}
			finalized = true
		}
	}
	if !finalized {
		err := st.Audit.Append(ctx, &domain.AuditEntry{
			ID:             uuid.NewString(),
			TripID:         trip.ID,
			BookingID:      b.ID,
			Operation:      domain.OperationCapture,
			Amount:         amount,
			IdempotencyKey: "capture:" + b.ID + ":" + paymentID,
			Trigger:        "payment_completed",
			Outcome:        domain.OutcomeSucceeded,
			GatewayRef:     paymentID,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil && !errors.Is(err, repository.ErrDuplicateKey) {
			return err
		}
	}

	if err := st.Bookings.RecordPayment(ctx, b.ID, amount, paymentID, now); err != nil {
		return err
	}
	trip.PaidVersion++
	return nil
}

// OnDriverConfirmed records that the driver completed the trip and releases
// funds if a passenger has already confirmed.
func (s *SettlementService) OnDriverConfirmed(ctx context.Context, tripID string) (*ReleaseResult, error) {
	if _, err := s.loadTrip(ctx, tripID); err != nil {
		return nil, err
	}

	var result *ReleaseResult
	err := s.withTripLock(ctx, tripID, "OnDriverConfirmed", func(ctx context.Context) error {
		s.resolve(ctx, tripID)

		already := false
		err := s.ledger.WithinTx(ctx, func(st repository.Stores) error {
			already = false

			trip, err := st.Trips.GetForUpdate(ctx, tripID)
			if err != nil {
				return err
			}

			switch {
			case trip.State == domain.SettlementFundsReleased,
				trip.State == domain.SettlementPayoutPendingManual,
				trip.State == domain.SettlementAwaitingDualConfirmation && trip.DriverConfirmed:
				already = true
				return nil
			case trip.State.Cancelled():
				return ErrIllegalTransition
			}

			now := s.clock()
			if trip.State == domain.SettlementAwaitingPayments {
				ok, err := s.canAdvance(ctx, st, trip)
				if err != nil {
					return err
				}
				if !ok || !trip.TransitionTo(domain.SettlementAwaitingCompletion) {
					return ErrIllegalTransition
				}
			}
			if !trip.TransitionTo(domain.SettlementAwaitingDualConfirmation) {
				return ErrIllegalTransition
			}
			trip.DriverConfirmed = true
			trip.UpdatedAt = now
			return st.Trips.Update(ctx, trip)
		})
		if err != nil {
			return err
		}
		if already {
			log.Printf("[SETTLEMENT] driver confirmation already recorded: trip=%s", tripID)
		} else {
			log.Printf("[SETTLEMENT] driver confirmed: trip=%s", tripID)
		}

		result, err = s.tryRelease(ctx, tripID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// OnPassengerConfirmed records that a passenger completed the trip and
// releases funds if the driver has already confirmed.
func (s *SettlementService) OnPassengerConfirmed(ctx context.Context, bookingID string) (*ReleaseResult, error) {
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var result *ReleaseResult
	err = s.withTripLock(ctx, booking.TripID, "OnPassengerConfirmed", func(ctx context.Context) error {
		s.resolve(ctx, booking.TripID)

		err := s.ledger.WithinTx(ctx, func(st repository.Stores) error {
			trip, err := st.Trips.GetForUpdate(ctx, booking.TripID)
			if err != nil {
				return err
			}
			b, err := st.Bookings.GetByID(ctx, bookingID)
			if err != nil {
				return err
			}
			if !b.Paid() {
				return ErrBookingNotPaid
			}
			if trip.State.Cancelled() || !trip.Departed(s.clock()) {
				return ErrIllegalTransition
			}
			if b.PassengerConfirmed {
				return nil
			}
			b.PassengerConfirmed = true
			b.ConfirmedAt = s.clock()
			return st.Bookings.Update(ctx, b)
		})
		if err != nil {
			return err
		}
		log.Printf("[SETTLEMENT] passenger confirmed: trip=%s booking=%s", booking.TripID, bookingID)

		result, err = s.tryRelease(ctx, booking.TripID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// canAdvance reports whether a trip awaiting payments has departed with at
// least one paid booking.
func (s *SettlementService) canAdvance(ctx context.Context, st repository.Stores, trip *domain.Trip) (bool, error) {
	if !trip.Departed(s.clock()) {
		return false, nil
	}
	paid, err := st.Bookings.ListPaidBookings(ctx, trip.ID)
	if err != nil {
		return false, err
	}
	return len(paid) > 0, nil
}
