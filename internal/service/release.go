package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/google/uuid"

	"carpool/internal/domain"
	"carpool/internal/gateway"
	"carpool/internal/repository"
)

// ReleaseResult reports the outcome of a release attempt.
type ReleaseResult struct {
	TripID           string                 `json:"trip_id"`
	State            domain.SettlementState `json:"state"`
	Released         bool                   `json:"released"`
	Gross            domain.Money           `json:"gross"`
	DriverAmount     domain.Money           `json:"driver_amount"`
	CommissionAmount domain.Money           `json:"commission_amount"`
	PayoutBatchID    string                 `json:"payout_batch_id,omitempty"`
	Reason           string                 `json:"reason,omitempty"`
}

// tryRelease pays the driver once both sides confirmed. It does nothing
// until then, and defers while any refund or capture is unresolved.
func (s *SettlementService) tryRelease(ctx context.Context, tripID string) (*ReleaseResult, error) {
	stores := s.ledger.Stores()

	trip, err := stores.Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	result := &ReleaseResult{TripID: tripID, State: trip.State, Released: trip.FundsReleased}

	if trip.State != domain.SettlementAwaitingDualConfirmation {
		return result, nil
	}
	if !trip.DriverConfirmed {
		result.Reason = "awaiting driver confirmation"
		return result, nil
	}

	paid, err := stores.Bookings.ListPaidBookings(ctx, tripID)
	if err != nil {
		return nil, err
	}
	confirmed := false
	for _, b := range paid {
		if b.PassengerConfirmed {
			confirmed = true
			break
		}
	}
	if !confirmed {
		result.Reason = "awaiting passenger confirmation"
		return result, nil
	}

	pending, err := stores.Audit.ListPendingByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		result.Reason = fmt.Sprintf("%d gateway operations unresolved", len(pending))
		log.Printf("[SETTLEMENT] release deferred: trip=%s %s", tripID, result.Reason)
		return result, nil
	}

	// The driver is paid from a reconciled ledger only.
	paid, err = s.reconcileBeforeRelease(ctx, trip, paid)
	if err != nil {
		return nil, err
	}
	if paid == nil {
		result.Reason = "over-payments of the current paid set not yet refunded"
		log.Printf("[SETTLEMENT] release deferred: trip=%s %s", tripID, result.Reason)
		return result, nil
	}

	gross, driver, commission, err := s.split(paid)
	if err != nil {
		return nil, err
	}
	result.Gross, result.DriverAmount, result.CommissionAmount = gross, driver, commission

	if gross == 0 {
		return s.finalizeRelease(ctx, tripID, nil, result)
	}

	return s.payout(ctx, trip, result)
}

// reconcileBeforeRelease runs a reconciliation pass for the trip's current
// paid version when a paid booking still holds more than its share. It
// returns the paid bookings afterwards, or nil when refunds remain owed.
func (s *SettlementService) reconcileBeforeRelease(ctx context.Context, trip *domain.Trip, paid []*domain.Booking) ([]*domain.Booking, error) {
	over, err := s.reconciler.overpaid(trip, paid)
	if err != nil || !over {
		return paid, err
	}

	trigger := "release:v" + strconv.FormatInt(trip.PaidVersion, 10)
	if _, err := s.reconciler.Reconcile(ctx, trip.ID, trigger); err != nil {
		return nil, err
	}

	paid, err = s.ledger.Stores().Bookings.ListPaidBookings(ctx, trip.ID)
	if err != nil {
		return nil, err
	}
	if over, err = s.reconciler.overpaid(trip, paid); err != nil || over {
		return nil, err
	}
	return paid, nil
}

// split computes the driver and commission shares of what the paid
// bookings actually hold.
func (s *SettlementService) split(paid []*domain.Booking) (gross, driver, commission domain.Money, err error) {
	for _, b := range paid {
		gross += b.AmountPaid
	}
	if gross == 0 {
		return 0, 0, 0, nil
	}
	driver, commission, err = s.pricing.RevenueShare(gross)
	return gross, driver, commission, err
}

// payout records a new payout attempt and sends it.
func (s *SettlementService) payout(ctx context.Context, trip *domain.Trip, result *ReleaseResult) (*ReleaseResult, error) {
	var entry *domain.AuditEntry

	err := s.ledger.WithinTx(ctx, func(st repository.Stores) error {
		locked, err := st.Trips.GetForUpdate(ctx, trip.ID)
		if err != nil {
			return err
		}
		if locked.FundsReleased {
			return repository.ErrAlreadyReleased
		}

		locked.PayoutAttempts++
		now := s.clock()
		entry = &domain.AuditEntry{
			ID:             uuid.NewString(),
			TripID:         locked.ID,
			Operation:      domain.OperationPayout,
			Amount:         result.DriverAmount,
			IdempotencyKey: "payout:" + locked.ID + ":" + strconv.Itoa(locked.PayoutAttempts),
			Trigger:        "release",
			Outcome:        domain.OutcomePending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := st.Audit.Append(ctx, entry); err != nil {
			return err
		}
		locked.UpdatedAt = now
		return st.Trips.Update(ctx, locked)
	})
	if errors.Is(err, repository.ErrAlreadyReleased) {
		result.Released = true
		result.State = domain.SettlementFundsReleased
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := s.gateway.Payout(ctx, gateway.PayoutRequest{
		Token:     entry.IdempotencyKey,
		TripID:    trip.ID,
		Recipient: trip.PayoutDestination,
		Amount:    result.DriverAmount,
		Currency:  trip.Currency,
	})
	outcome := gateway.Classify(res, err)
	ref := ""
	if res != nil {
		ref = res.Ref
	}

	if outcome == gateway.OutcomeSucceeded {
		result.PayoutBatchID = ref
		return s.finalizeRelease(ctx, trip.ID, entry, result)
	}

	reason := gateway.FailureReason(res, err)
	if err := s.parkPayout(ctx, trip.ID, entry, outcome, ref, reason); err != nil {
		return nil, err
	}

	result.State = domain.SettlementPayoutPendingManual
	result.Reason = reason
	return result, nil
}

// parkPayout moves a trip whose payout did not succeed to manual handling.
// A payout with unknown outcome keeps its audit entry pending.
func (s *SettlementService) parkPayout(ctx context.Context, tripID string, entry *domain.AuditEntry, outcome gateway.Outcome, ref, reason string) error {
	err := s.ledger.WithinTx(ctx, func(st repository.Stores) error {
		trip, err := st.Trips.GetForUpdate(ctx, tripID)
		if err != nil {
			return err
		}
		if outcome == gateway.OutcomeFailed {
			if err := st.Audit.Finalize(ctx, entry.ID, domain.OutcomeFailed, ref, reason); err != nil {
				return err
			}
		}
		if trip.State != domain.SettlementPayoutPendingManual && !trip.TransitionTo(domain.SettlementPayoutPendingManual) {
			return ErrIllegalTransition
		}
		trip.UpdatedAt = s.clock()
		return st.Trips.Update(ctx, trip)
	})
	if err != nil {
		return err
	}

	log.Printf("[SETTLEMENT] payout not completed: trip=%s attempt=%s outcome=%v reason=%s", tripID, entry.IdempotencyKey, outcome, reason)
	_ = s.notifier.NotifySettlementFailed(ctx, SettlementFailure{
		TripID: tripID,
		Reason: fmt.Sprintf("driver payout of %s pending manual resolution: %s", entry.Amount, reason),
	})
	return nil
}

// finalizeRelease stamps the settlement once the payout succeeded.
func (s *SettlementService) finalizeRelease(ctx context.Context, tripID string, entry *domain.AuditEntry, result *ReleaseResult) (*ReleaseResult, error) {
	already := false
	var released *domain.Trip

	err := s.ledger.WithinTx(ctx, func(st repository.Stores) error {
		already = false
		now := s.clock()

		if entry != nil {
			err := st.Audit.Finalize(ctx, entry.ID, domain.OutcomeSucceeded, result.PayoutBatchID, "")
			if err != nil && !errors.Is(err, repository.ErrAlreadyFinal) {
				return err
			}
		}

		err := st.Trips.MarkFundsReleased(ctx, tripID, domain.Settlement{
			DriverAmount:     result.DriverAmount,
			CommissionAmount: result.CommissionAmount,
			PayoutBatchID:    result.PayoutBatchID,
			ReleasedAt:       now,
		})
		if errors.Is(err, repository.ErrAlreadyReleased) {
			already = true
			return nil
		}
		if err != nil {
			return err
		}
		if err := st.Bookings.MarkSettled(ctx, tripID, now); err != nil {
			return err
		}

		released, err = st.Trips.GetByID(ctx, tripID)
		return err
	})
	if err != nil {
		return nil, err
	}

	result.Released = true
	result.State = domain.SettlementFundsReleased
	result.Reason = ""
	if already {
		return result, nil
	}

	log.Printf("[SETTLEMENT] funds released: trip=%s driver=%s commission=%s batch=%s",
		tripID, result.DriverAmount, result.CommissionAmount, result.PayoutBatchID)
	_ = s.notifier.NotifyPayoutSent(ctx, released, result.DriverAmount)
	return result, nil
}

// RetryPayout retries the driver payout of a trip awaiting manual payout
// resolution. A previous attempt is only superseded once the gateway
// confirms it failed.
func (s *SettlementService) RetryPayout(ctx context.Context, tripID string) (*ReleaseResult, error) {
	if _, err := s.loadTrip(ctx, tripID); err != nil {
		return nil, err
	}

	var result *ReleaseResult
	err := s.withTripLock(ctx, tripID, "RetryPayout", func(ctx context.Context) error {
		s.resolve(ctx, tripID)

		stores := s.ledger.Stores()
		trip, err := stores.Trips.GetByID(ctx, tripID)
		if err != nil {
			return err
		}
		if trip.State != domain.SettlementPayoutPendingManual {
			return ErrIllegalTransition
		}

		paid, err := stores.Bookings.ListPaidBookings(ctx, tripID)
		if err != nil {
			return err
		}
		gross, driver, commission, err := s.split(paid)
		if err != nil {
			return err
		}
		result = &ReleaseResult{
			TripID:           tripID,
			State:            trip.State,
			Gross:            gross,
			DriverAmount:     driver,
			CommissionAmount: commission,
		}

		last, err := stores.Audit.LatestPayout(ctx, tripID)
		if err != nil {
			return err
		}

		if last != nil {
			switch last.Outcome {
			case domain.OutcomeSucceeded:
				result.DriverAmount = last.Amount
				result.CommissionAmount = gross - last.Amount
				result.PayoutBatchID = last.GatewayRef
				result, err = s.finalizeRelease(ctx, tripID, nil, result)
				return err

			case domain.OutcomePending:
				res, qerr := s.gateway.QueryStatus(ctx, gateway.OperationRef{
					Kind:  domain.OperationPayout,
					Token: last.IdempotencyKey,
					ID:    last.GatewayRef,
					Since: last.CreatedAt,
				})
				switch gateway.Classify(res, qerr) {
				case gateway.OutcomeSucceeded:
					result.DriverAmount = last.Amount
					result.CommissionAmount = gross - last.Amount
					if res != nil {
						result.PayoutBatchID = res.Ref
					}
					result, err = s.finalizeRelease(ctx, tripID, last, result)
					return err
				case gateway.OutcomeUnknown:
					return ErrOperationInFlight
				}

				reason := gateway.FailureReason(res, qerr)
				if err := s.ledger.Stores().Audit.Finalize(ctx, last.ID, domain.OutcomeFailed, last.GatewayRef, reason); err != nil {
					return err
				}
			}
		}

		log.Printf("[SETTLEMENT] retrying payout: trip=%s attempt=%d", tripID, trip.PayoutAttempts+1)
		result, err = s.payout(ctx, trip, result)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
