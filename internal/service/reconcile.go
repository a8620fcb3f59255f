package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"carpool/internal/domain"
	"carpool/internal/pricing"
	"carpool/internal/repository"
)

// maxReconcileAttempts bounds the retries when the paid booking set changes
// between reading it and reserving refunds.
const maxReconcileAttempts = 3

// ReconcileResult reports one reconciliation pass.
type ReconcileResult struct {
	TripID            string          `json:"trip_id"`
	PaidCount         int             `json:"paid_count"`
	PerPassengerPrice domain.Money    `json:"per_passenger_price"`
	Refunds           []RefundOutcome `json:"refunds"`
	ReviewRequired    bool            `json:"review_required"`
}

// Reconciler brings every paid booking of a trip down to the current
// per-passenger price. Callers must hold the trip lock.
type Reconciler struct {
	ledger   repository.Ledger
	mover    *moneyMover
	pricing  *pricing.Calculator
	notifier Notifier
}

func newReconciler(ledger repository.Ledger, mover *moneyMover, calc *pricing.Calculator, notifier Notifier) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		mover:    mover,
		pricing:  calc,
		notifier: notifier,
	}
}

// Reconcile refunds over-payments on a trip. trigger names the event that
// caused the pass and makes its refunds idempotent: running the same trigger
// twice never refunds twice.
func (r *Reconciler) Reconcile(ctx context.Context, tripID, trigger string) (*ReconcileResult, error) {
	var lastErr error

	for attempt := 1; attempt <= maxReconcileAttempts; attempt++ {
		result, err := r.reconcileOnce(ctx, tripID, trigger)
		if errors.Is(err, ErrStaleSnapshot) {
			log.Printf("[RECONCILE] paid set changed, retrying: trip=%s attempt=%d", tripID, attempt)
			lastErr = err
			continue
		}
		return result, err
	}

	return nil, lastErr
}

func (r *Reconciler) reconcileOnce(ctx context.Context, tripID, trigger string) (*ReconcileResult, error) {
	stores := r.ledger.Stores()

	trip, err := stores.Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	paid, err := stores.Bookings.ListPaidBookings(ctx, tripID)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{
		TripID:         tripID,
		PaidCount:      len(paid),
		ReviewRequired: trip.ReviewRequired,
	}
	// A single payer owns the whole price.
	if len(paid) < 2 || trip.State.Cancelled() || trip.FundsReleased {
		return result, nil
	}

	price, err := r.pricing.PerPassengerPrice(trip.TotalPrice, len(paid))
	if err != nil {
		return nil, err
	}
	result.PerPassengerPrice = price

	inFlight, err := r.mover.refundsInFlight(ctx, tripID)
	if err != nil {
		return nil, err
	}

	var intents []refundIntent
	var held []RefundOutcome
	for _, b := range paid {
		if inFlight[b.ID] {
			// An earlier refund has no known outcome; its amount may already be gone.
			held = append(held, RefundOutcome{BookingID: b.ID, Status: RefundUnknown, Reason: "earlier refund still pending"})
			continue
		}
		if delta := r.pricing.RefundDue(b.AmountPaid, price); delta > 0 {
			intents = append(intents, refundIntent{booking: b, amount: delta, trigger: trigger})
		}
	}

	outcomes, err := r.mover.refund(ctx, tripID, trip.PaidVersion, intents)
	if err != nil {
		return nil, err
	}
	outcomes = append(held, outcomes...)
	result.Refunds = outcomes

	log.Printf("[RECONCILE] trip=%s trigger=%s paid=%d price=%s refunds=%d",
		tripID, trigger, len(paid), price, len(outcomes))

	if allSettled(outcomes) {
		flagged, err := r.checkConsistency(ctx, tripID)
		if err != nil {
			return nil, err
		}
		result.ReviewRequired = result.ReviewRequired || flagged
	}

	return result, nil
}

// overpaid reports whether a paid booking of trip still holds a refundable
// amount above the per-passenger price of the current paid set.
func (r *Reconciler) overpaid(trip *domain.Trip, paid []*domain.Booking) (bool, error) {
	if len(paid) < 2 || trip.State.Cancelled() {
		return false, nil
	}
	price, err := r.pricing.PerPassengerPrice(trip.TotalPrice, len(paid))
	if err != nil {
		return false, err
	}
	for _, b := range paid {
		if r.pricing.RefundDue(b.AmountPaid, price) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// checkConsistency verifies that the amounts held for a trip are within
// rounding of its total price. Underpayment is expected once a passenger
// leaves and is not flagged.
func (r *Reconciler) checkConsistency(ctx context.Context, tripID string) (bool, error) {
	stores := r.ledger.Stores()

	trip, err := stores.Trips.GetByID(ctx, tripID)
	if err != nil {
		return false, err
	}
	paid, err := stores.Bookings.ListPaidBookings(ctx, tripID)
	if err != nil {
		return false, err
	}
	if len(paid) == 0 {
		return false, nil
	}

	var held domain.Money
	for _, b := range paid {
		held += b.AmountPaid
	}

	cfg := r.pricing.Config()
	tolerance := domain.Money(len(paid)) * (cfg.Increment + cfg.MinRefundThreshold)
	if held <= trip.TotalPrice+tolerance {
		return false, nil
	}

	reason := fmt.Sprintf("paid bookings hold %s for a total of %s", held, trip.TotalPrice)
	log.Printf("[RECONCILE] consistency check failed: trip=%s %s", tripID, reason)

	err = r.ledger.WithinTx(ctx, func(st repository.Stores) error {
		locked, err := st.Trips.GetForUpdate(ctx, tripID)
		if err != nil {
			return err
		}
		locked.FlagForReview(reason)
		return st.Trips.Update(ctx, locked)
	})
	if err != nil {
		return false, err
	}

	_ = r.notifier.NotifySettlementFailed(ctx, SettlementFailure{TripID: tripID, Reason: reason})
	return true, nil
}
