package service

import (
	"context"
	"log"

	"carpool/internal/domain"
	"carpool/internal/repository"
)

// CancellationResult reports the refunds triggered by a cancellation.
type CancellationResult struct {
	TripID    string                 `json:"trip_id"`
	BookingID string                 `json:"booking_id,omitempty"`
	State     domain.SettlementState `json:"state"`
	Refunds   []RefundOutcome        `json:"refunds"`
	Reconcile *ReconcileResult       `json:"reconcile,omitempty"`
}

// OnTripCancelled cancels a trip on the driver's behalf and refunds every
// booking in full. Refunds that fail leave the trip REFUNDING with the
// per-booking outcome in the result.
func (s *SettlementService) OnTripCancelled(ctx context.Context, tripID string) (*CancellationResult, error) {
	if _, err := s.loadTrip(ctx, tripID); err != nil {
		return nil, err
	}

	result := &CancellationResult{TripID: tripID}
	err := s.withTripLock(ctx, tripID, "OnTripCancelled", func(ctx context.Context) error {
		s.resolve(ctx, tripID)

		done := false
		err := s.ledger.WithinTx(ctx, func(st repository.Stores) error {
			done = false

			trip, err := st.Trips.GetForUpdate(ctx, tripID)
			if err != nil {
				return err
			}

			switch trip.State {
			case domain.SettlementRefunded:
				done = true
				return nil
			case domain.SettlementDriverCancelled, domain.SettlementRefunding:
				return nil
			case domain.SettlementFundsReleased, domain.SettlementPayoutPendingManual:
				return ErrIllegalTransition
			}

			if !trip.TransitionTo(domain.SettlementDriverCancelled) {
				return ErrIllegalTransition
			}
			now := s.clock()
			trip.Cancelled = true
			trip.UpdatedAt = now

			bookings, err := st.Bookings.ListByTrip(ctx, tripID)
			if err != nil {
				return err
			}
			for _, b := range bookings {
				if b.Status != domain.PaymentStatusPending {
					continue
				}
				b.Status = domain.PaymentStatusCancelled
				b.CancelledAt = now
				if err := st.Bookings.Update(ctx, b); err != nil {
					return err
				}
			}
			return st.Trips.Update(ctx, trip)
		})
		if err != nil {
			return err
		}
		if done {
			result.State = domain.SettlementRefunded
			return nil
		}
		log.Printf("[SETTLEMENT] trip cancelled by driver: trip=%s", tripID)

		outcomes, err := s.refundAll(ctx, tripID, "trip_cancelled")
		if err != nil {
			return err
		}
		result.Refunds = outcomes

		if err := s.updateRefundState(ctx, tripID); err != nil {
			return err
		}
		trip, err := s.ledger.Stores().Trips.GetByID(ctx, tripID)
		if err != nil {
			return err
		}
		result.State = trip.State
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// refundAll refunds everything still held on a trip under trigger.
func (s *SettlementService) refundAll(ctx context.Context, tripID, trigger string) ([]RefundOutcome, error) {
	bookings, err := s.ledger.Stores().Bookings.ListByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	inFlight, err := s.mover.refundsInFlight(ctx, tripID)
	if err != nil {
		return nil, err
	}

	var intents []refundIntent
	var held []RefundOutcome
	for _, b := range bookings {
		if b.AmountPaid <= 0 {
			continue
		}
		if inFlight[b.ID] {
			held = append(held, RefundOutcome{BookingID: b.ID, Status: RefundUnknown, Reason: "earlier refund still pending"})
			continue
		}
		intents = append(intents, refundIntent{booking: b, amount: b.AmountPaid, trigger: trigger})
	}

	outcomes, err := s.mover.refund(ctx, tripID, noSnapshot, intents)
	if err != nil {
		return nil, err
	}
	return append(held, outcomes...), nil
}

// updateRefundState moves a cancelled trip to REFUNDED once nothing is held
// on it, and to REFUNDING otherwise.
func (s *SettlementService) updateRefundState(ctx context.Context, tripID string) error {
	return s.ledger.WithinTx(ctx, func(st repository.Stores) error {
		trip, err := st.Trips.GetForUpdate(ctx, tripID)
		if err != nil {
			return err
		}
		if !trip.State.Cancelled() || trip.State == domain.SettlementRefunded {
			return nil
		}

		bookings, err := st.Bookings.ListByTrip(ctx, tripID)
		if err != nil {
			return err
		}
		held := false
		for _, b := range bookings {
			if b.AmountPaid > 0 {
				held = true
				break
			}
		}

		next := domain.SettlementRefunded
		if held {
			next = domain.SettlementRefunding
		}
		if trip.State == next {
			return nil
		}
		if !trip.TransitionTo(next) {
			return ErrIllegalTransition
		}
		trip.UpdatedAt = s.clock()
		log.Printf("[SETTLEMENT] trip refund state: trip=%s state=%s", tripID, next)
		return st.Trips.Update(ctx, trip)
	})
}

// OnBookingCancelled cancels one passenger's booking. A paid booking is
// refunded in full and the remaining passengers are reconciled to the new
// per-passenger price.
func (s *SettlementService) OnBookingCancelled(ctx context.Context, bookingID string) (*CancellationResult, error) {
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	result := &CancellationResult{TripID: booking.TripID, BookingID: bookingID}
	err = s.withTripLock(ctx, booking.TripID, "OnBookingCancelled", func(ctx context.Context) error {
		s.resolve(ctx, booking.TripID)

		var noop, wasPaid bool
		var state domain.SettlementState
		err := s.ledger.WithinTx(ctx, func(st repository.Stores) error {
			noop, wasPaid = false, false

			trip, err := st.Trips.GetForUpdate(ctx, booking.TripID)
			if err != nil {
				return err
			}
			state = trip.State
			b, err := st.Bookings.GetByID(ctx, bookingID)
			if err != nil {
				return err
			}

			if b.Status == domain.PaymentStatusCancelled || b.Status == domain.PaymentStatusRefunded {
				noop = true
				return nil
			}
			if trip.State.Terminal() || trip.State.Cancelled() || trip.State == domain.SettlementPayoutPendingManual {
				return ErrIllegalTransition
			}

			now := s.clock()
			wasPaid = b.Paid()
			b.Status = domain.PaymentStatusCancelled
			b.CancelledAt = now
			if err := st.Bookings.Update(ctx, b); err != nil {
				return err
			}

			if trip.SeatsAvailable < trip.SeatCapacity {
				trip.SeatsAvailable++
			}
			if wasPaid {
				trip.PaidVersion++
			}
			trip.UpdatedAt = now
			return st.Trips.Update(ctx, trip)
		})
		if err != nil {
			return err
		}
		result.State = state
		if noop || !wasPaid {
			return nil
		}
		log.Printf("[SETTLEMENT] paid booking cancelled: trip=%s booking=%s", booking.TripID, bookingID)

		outcomes, err := s.refundBooking(ctx, booking.TripID, bookingID, "booking_cancelled")
		if err != nil {
			return err
		}
		result.Refunds = outcomes

		rec, err := s.reconciler.Reconcile(ctx, booking.TripID, "cancel:"+bookingID)
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

// refundBooking refunds the full remaining amount of one booking.
func (s *SettlementService) refundBooking(ctx context.Context, tripID, bookingID, trigger string) ([]RefundOutcome, error) {
	b, err := s.ledger.Stores().Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.AmountPaid <= 0 {
		return nil, nil
	}
	inFlight, err := s.mover.refundsInFlight(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if inFlight[bookingID] {
		return []RefundOutcome{{BookingID: bookingID, Status: RefundUnknown, Reason: "earlier refund still pending"}}, nil
	}
	return s.mover.refund(ctx, tripID, noSnapshot, []refundIntent{{booking: b, amount: b.AmountPaid, trigger: trigger}})
}

// RetryRefund retries whatever a booking is still owed: the full remaining
// amount for a cancelled booking or trip, otherwise its over-payment against
// the current per-passenger price.
func (s *SettlementService) RetryRefund(ctx context.Context, bookingID string) (*CancellationResult, error) {
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	result := &CancellationResult{TripID: booking.TripID, BookingID: bookingID}
	err = s.withTripLock(ctx, booking.TripID, "RetryRefund", func(ctx context.Context) error {
		s.resolve(ctx, booking.TripID)

		stores := s.ledger.Stores()
		trip, err := stores.Trips.GetByID(ctx, booking.TripID)
		if err != nil {
			return err
		}
		b, err := stores.Bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		inFlight, err := s.mover.refundsInFlight(ctx, trip.ID)
		if err != nil {
			return err
		}
		if inFlight[bookingID] {
			return ErrOperationInFlight
		}

		switch {
		case b.AmountPaid > 0 && (b.Status == domain.PaymentStatusCancelled || trip.State.Cancelled()):
			outcomes, err := s.refundBooking(ctx, trip.ID, bookingID, manualTrigger())
			if err != nil {
				return err
			}
			result.Refunds = outcomes
			if err := s.updateRefundState(ctx, trip.ID); err != nil {
				return err
			}

		case b.Paid() && !trip.FundsReleased:
			rec, err := s.reconciler.Reconcile(ctx, trip.ID, manualTrigger())
			if err != nil {
				return err
			}
			result.Reconcile = rec
			for _, o := range rec.Refunds {
				if o.BookingID == bookingID {
					result.Refunds = append(result.Refunds, o)
				}
			}

		default:
			return ErrNothingToRefund
		}

		trip, err = stores.Trips.GetByID(ctx, trip.ID)
		if err != nil {
			return err
		}
		result.State = trip.State
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reconcile runs a manual reconciliation pass on a trip.
func (s *SettlementService) Reconcile(ctx context.Context, tripID string) (*ReconcileResult, error) {
	if _, err := s.loadTrip(ctx, tripID); err != nil {
		return nil, err
	}

	var result *ReconcileResult
	err := s.withTripLock(ctx, tripID, "Reconcile", func(ctx context.Context) error {
		s.resolve(ctx, tripID)
		var err error
		result, err = s.reconciler.Reconcile(ctx, tripID, manualTrigger())
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
