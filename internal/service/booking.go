package service

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"carpool/internal/domain"
	"carpool/internal/gateway"
	"carpool/internal/repository"
)

// ReserveSeatRequest contains the parameters for reserving a seat.
type ReserveSeatRequest struct {
	TripID      string
	PassengerID string
	PayerRef    string // gateway card token or customer id
}

// ReserveSeat takes a seat on a trip with a booking awaiting payment.
func (s *SettlementService) ReserveSeat(ctx context.Context, req ReserveSeatRequest) (*domain.Booking, error) {
	if req.PassengerID == "" {
		return nil, ErrInvalidPassengerID
	}
	if _, err := s.loadTrip(ctx, req.TripID); err != nil {
		return nil, err
	}

	var booking *domain.Booking
	err := s.withTripLock(ctx, req.TripID, "ReserveSeat", func(ctx context.Context) error {
		return s.ledger.WithinTx(ctx, func(st repository.Stores) error {
			trip, err := st.Trips.GetForUpdate(ctx, req.TripID)
			if err != nil {
				return err
			}
			if !trip.Published || trip.State != domain.SettlementAwaitingPayments {
				return ErrIllegalTransition
			}
			if trip.SeatsAvailable < 1 {
				return ErrNoSeatsAvailable
			}

			now := s.clock()
			booking = &domain.Booking{
				ID:          uuid.New().String(),
				TripID:      trip.ID,
				PassengerID: req.PassengerID,
				PayerRef:    req.PayerRef,
				Status:      domain.PaymentStatusPending,
				CreatedAt:   now,
			}
			if err := st.Bookings.Create(ctx, booking); err != nil {
				return err
			}

			trip.SeatsAvailable--
			trip.UpdatedAt = now
			return st.Trips.Update(ctx, trip)
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[SETTLEMENT] seat reserved: trip=%s booking=%s passenger=%s", booking.TripID, booking.ID, booking.PassengerID)
	return booking, nil
}

// PayBooking charges a pending booking the current per-passenger price and
// reconciles the trip. A capture whose outcome is unknown is reported as
// PENDING and resolved later by a status query or the payment webhook.
func (s *SettlementService) PayBooking(ctx context.Context, bookingID string) (*PaymentResult, error) {
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.PayerRef == "" {
		return nil, ErrInvalidPayerRef
	}

	result := &PaymentResult{BookingID: bookingID, TripID: booking.TripID}
	err = s.withTripLock(ctx, booking.TripID, "PayBooking", func(ctx context.Context) error {
		s.resolve(ctx, booking.TripID)

		var entry *domain.AuditEntry
		var trip *domain.Trip
		err := s.ledger.WithinTx(ctx, func(st repository.Stores) error {
			var err error
			trip, err = st.Trips.GetForUpdate(ctx, booking.TripID)
			if err != nil {
				return err
			}
			if !openForPayment(trip.State) || trip.Cancelled {
				return ErrIllegalTransition
			}
			b, err := st.Bookings.GetByID(ctx, bookingID)
			if err != nil {
				return err
			}
			if b.Status != domain.PaymentStatusPending {
				return ErrBookingNotPending
			}

			pending, err := st.Audit.ListPendingByTrip(ctx, trip.ID)
			if err != nil {
				return err
			}
			for _, e := range pending {
				if e.Operation == domain.OperationCapture && e.BookingID == bookingID {
					return ErrOperationInFlight
				}
			}

			paid, err := st.Bookings.ListPaidBookings(ctx, trip.ID)
			if err != nil {
				return err
			}
			price, err := s.pricing.PerPassengerPrice(trip.TotalPrice, len(paid)+1)
			if err != nil {
				return err
			}

			now := s.clock()
			entry = &domain.AuditEntry{
				ID:             uuid.New().String(),
				TripID:         trip.ID,
				BookingID:      bookingID,
				Operation:      domain.OperationCapture,
				Amount:         price,
				IdempotencyKey: "capture:" + bookingID + ":" + uuid.New().String(),
				Trigger:        "pay",
				Outcome:        domain.OutcomePending,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			return st.Audit.Append(ctx, entry)
		})
		if err != nil {
			return err
		}
		result.Amount = entry.Amount

		res, err := s.gateway.Capture(ctx, gateway.CaptureRequest{
			Token:     entry.IdempotencyKey,
			BookingID: bookingID,
			Amount:    entry.Amount,
			Currency:  trip.Currency,
			PayerRef:  booking.PayerRef,
		})
		outcome := gateway.Classify(res, err)
		ref := ""
		if res != nil {
			ref = res.Ref
		}

		switch outcome {
		case gateway.OutcomeUnknown:
			result.Status = PaymentPending
			log.Printf("[SETTLEMENT] capture outcome unknown: trip=%s booking=%s", trip.ID, bookingID)
			return nil

		case gateway.OutcomeFailed:
			reason := gateway.FailureReason(res, err)
			if ferr := s.ledger.Stores().Audit.Finalize(ctx, entry.ID, domain.OutcomeFailed, ref, reason); ferr != nil {
				return ferr
			}
			log.Printf("[SETTLEMENT] capture failed: trip=%s booking=%s reason=%s", trip.ID, bookingID, reason)
			return fmt.Errorf("%w: %s", ErrPaymentDeclined, reason)
		}

		err = s.ledger.WithinTx(ctx, func(st repository.Stores) error {
			locked, err := st.Trips.GetForUpdate(ctx, trip.ID)
			if err != nil {
				return err
			}
			now := s.clock()
			if err := st.Bookings.RecordPayment(ctx, bookingID, entry.Amount, ref, now); err != nil {
				return err
			}
			if err := st.Audit.Finalize(ctx, entry.ID, domain.OutcomeSucceeded, ref, ""); err != nil {
				return err
			}
			locked.PaidVersion++
			locked.UpdatedAt = now
			return st.Trips.Update(ctx, locked)
		})
		if err != nil {
			return err
		}

		result.PaymentID = ref
		result.Status = PaymentRecorded
		log.Printf("[SETTLEMENT] payment captured: trip=%s booking=%s amount=%s", trip.ID, bookingID, entry.Amount)

		rec, err := s.reconciler.Reconcile(ctx, trip.ID, "paid:"+bookingID)
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

// GetBooking returns a booking.
func (s *SettlementService) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	return s.loadBooking(ctx, bookingID)
}

// ListBookingAudit returns the money log of a booking.
func (s *SettlementService) ListBookingAudit(ctx context.Context, bookingID string) ([]*domain.AuditEntry, error) {
	if _, err := s.loadBooking(ctx, bookingID); err != nil {
		return nil, err
	}
	return s.ledger.Stores().Audit.ListByBooking(ctx, bookingID)
}
