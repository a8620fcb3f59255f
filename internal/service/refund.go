package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"carpool/internal/domain"
	"carpool/internal/gateway"
	"carpool/internal/repository"
)

// RefundStatus is the per-booking result of a refund attempt.
type RefundStatus string

const (
	RefundIssued   RefundStatus = "REFUNDED"
	RefundFailed   RefundStatus = "FAILED"
	RefundDeferred RefundStatus = "DEFERRED" // payer has no refund destination
	RefundUnknown  RefundStatus = "PENDING"  // gateway outcome not yet known
	RefundSkipped  RefundStatus = "SKIPPED"  // already handled for this trigger
)

// RefundOutcome reports what happened to one booking's refund.
type RefundOutcome struct {
	BookingID string       `json:"booking_id"`
	Amount    domain.Money `json:"amount"`
	Status    RefundStatus `json:"status"`
	RefundID  string       `json:"refund_id,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// allSettled reports whether no outcome is failed, deferred or unknown.
func allSettled(outcomes []RefundOutcome) bool {
	for _, o := range outcomes {
		switch o.Status {
		case RefundFailed, RefundDeferred, RefundUnknown:
			return false
		}
	}
	return true
}

// noSnapshot disables the paid_version check when reserving refunds.
const noSnapshot int64 = -1

type refundIntent struct {
	booking *domain.Booking
	amount  domain.Money
	trigger string
}

func refundKey(bookingID, trigger string) string {
	return "refund:" + bookingID + ":" + trigger
}

func manualTrigger() string {
	return "manual:" + uuid.NewString()
}

// moneyMover issues gateway refunds in three steps: reserve a PENDING audit
// entry inside a transaction, call the gateway, then apply every definitive
// result to the ledger in one transaction.
type moneyMover struct {
	ledger   repository.Ledger
	gateway  gateway.Gateway
	notifier Notifier
	clock    func() time.Time
}

type dispatched struct {
	intent  refundIntent
	entry   *domain.AuditEntry
	outcome gateway.Outcome
	ref     string
	reason  string
	noDest  bool
}

// refund runs intents against trip. If snapshot is not noSnapshot the trip's
// paid_version must still equal it or ErrStaleSnapshot is returned and nothing
// is sent to the gateway.
func (m *moneyMover) refund(ctx context.Context, tripID string, snapshot int64, intents []refundIntent) ([]RefundOutcome, error) {
	if len(intents) == 0 {
		return nil, nil
	}

	var reserved []dispatched
	var skipped []RefundOutcome

	err := m.ledger.WithinTx(ctx, func(st repository.Stores) error {
		reserved, skipped = nil, nil

		trip, err := st.Trips.GetForUpdate(ctx, tripID)
		if err != nil {
			return err
		}
		if snapshot != noSnapshot && trip.PaidVersion != snapshot {
			return ErrStaleSnapshot
		}

		for _, in := range intents {
			key := refundKey(in.booking.ID, in.trigger)

			existing, err := st.Audit.GetByIdempotencyKey(ctx, key)
			if err != nil {
				return err
			}
			if existing != nil {
				skipped = append(skipped, RefundOutcome{
					BookingID: in.booking.ID,
					Amount:    existing.Amount,
					Status:    RefundSkipped,
					RefundID:  existing.GatewayRef,
					Reason:    "already " + string(existing.Outcome),
				})
				continue
			}

			entry := &domain.AuditEntry{
				ID:             uuid.NewString(),
				TripID:         tripID,
				BookingID:      in.booking.ID,
				Operation:      domain.OperationRefund,
				Amount:         in.amount,
				IdempotencyKey: key,
				Trigger:        in.trigger,
				Outcome:        domain.OutcomePending,
				ParentRef:      in.booking.GatewayPaymentID,
				CreatedAt:      m.clock(),
			}
			if err := st.Audit.Append(ctx, entry); err != nil {
				return err
			}
			reserved = append(reserved, dispatched{intent: in, entry: entry})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range reserved {
		d := &reserved[i]
		res, err := m.gateway.Refund(ctx, gateway.RefundRequest{
			Token:     d.entry.IdempotencyKey,
			BookingID: d.intent.booking.ID,
			PaymentID: d.intent.booking.GatewayPaymentID,
			Amount:    d.intent.amount,
		})
		d.outcome = gateway.Classify(res, err)
		if res != nil {
			d.ref = res.Ref
		}
		if d.outcome != gateway.OutcomeSucceeded {
			d.reason = gateway.FailureReason(res, err)
			d.noDest = errors.Is(err, gateway.ErrNoDestination)
		}
	}

	if err := m.settle(ctx, tripID, reserved); err != nil {
		// Entries stay PENDING and are resolved by a later status query.
		log.Printf("[SETTLEMENT] failed to record refund results: trip=%s err=%v", tripID, err)
		return nil, err
	}

	outcomes := append([]RefundOutcome(nil), skipped...)
	for _, d := range reserved {
		outcomes = append(outcomes, m.report(ctx, tripID, d))
	}

	return outcomes, nil
}

// settle writes all definitive refund results in one transaction.
func (m *moneyMover) settle(ctx context.Context, tripID string, results []dispatched) error {
	return m.ledger.WithinTx(ctx, func(st repository.Stores) error {
		trip, err := st.Trips.GetForUpdate(ctx, tripID)
		if err != nil {
			return err
		}

		flagged := false
		for _, d := range results {
			switch d.outcome {
			case gateway.OutcomeSucceeded:
				ok, err := m.applyRefund(ctx, st, trip, d.entry, d.ref)
				if err != nil {
					return err
				}
				if !ok {
					flagged = true
				}

			case gateway.OutcomeFailed:
				if err := st.Audit.Finalize(ctx, d.entry.ID, domain.OutcomeFailed, d.ref, d.reason); err != nil {
					return err
				}
			}
		}

		if flagged {
			trip.UpdatedAt = m.clock()
			return st.Trips.Update(ctx, trip)
		}
		return nil
	})
}

// applyRefund records a refund the gateway confirmed. It reports false when
// the ledger could not absorb it and the trip was flagged for review.
func (m *moneyMover) applyRefund(ctx context.Context, st repository.Stores, trip *domain.Trip, entry *domain.AuditEntry, ref string) (bool, error) {
	now := m.clock()

	err := st.Bookings.ApplyRefundDelta(ctx, entry.BookingID, entry.Amount, ref, now)
	if errors.Is(err, repository.ErrNegativeBalance) {
		reason := fmt.Sprintf("gateway refunded %s on booking %s beyond the amount held", entry.Amount, entry.BookingID)
		log.Printf("[SETTLEMENT] invariant violation: trip=%s %s", trip.ID, reason)
		trip.FlagForReview(reason)
		return false, st.Audit.Finalize(ctx, entry.ID, domain.OutcomeSucceeded, ref, "ledger rejected delta")
	}
	if err != nil {
		return false, err
	}

	booking, err := st.Bookings.GetByID(ctx, entry.BookingID)
	if err != nil {
		return false, err
	}
	if booking.AmountPaid == 0 && (booking.Status == domain.PaymentStatusCancelled || trip.State.Cancelled()) {
		booking.Status = domain.PaymentStatusRefunded
		if err := st.Bookings.Update(ctx, booking); err != nil {
			return false, err
		}
	}

	return true, st.Audit.Finalize(ctx, entry.ID, domain.OutcomeSucceeded, ref, "")
}

// report turns a dispatched refund into an outcome and notifies about it.
func (m *moneyMover) report(ctx context.Context, tripID string, d dispatched) RefundOutcome {
	out := RefundOutcome{
		BookingID: d.intent.booking.ID,
		Amount:    d.intent.amount,
		RefundID:  d.ref,
		Reason:    d.reason,
	}

	switch {
	case d.outcome == gateway.OutcomeSucceeded:
		out.Status = RefundIssued
		booking := *d.intent.booking
		booking.AmountPaid -= d.intent.amount
		booking.RefundTotal += d.intent.amount
		_ = m.notifier.NotifyRefundIssued(ctx, &booking, d.intent.amount)

	case d.outcome == gateway.OutcomeUnknown:
		out.Status = RefundUnknown
		_ = m.notifier.NotifySettlementFailed(ctx, SettlementFailure{
			TripID:    tripID,
			BookingID: d.intent.booking.ID,
			Reason:    fmt.Sprintf("refund of %s outcome unknown (%s); will be resolved by status query", d.intent.amount, d.reason),
		})

	case d.noDest:
		out.Status = RefundDeferred
		_ = m.notifier.NotifySettlementFailed(ctx, SettlementFailure{
			TripID:    tripID,
			BookingID: d.intent.booking.ID,
			Reason:    fmt.Sprintf("refund of %s deferred: payer has no refund destination", d.intent.amount),
		})

	default:
		out.Status = RefundFailed
		_ = m.notifier.NotifySettlementFailed(ctx, SettlementFailure{
			TripID:    tripID,
			BookingID: d.intent.booking.ID,
			Reason:    fmt.Sprintf("refund of %s failed: %s", d.intent.amount, d.reason),
		})
	}

	return out
}

// resolvePending asks the gateway about every PENDING refund and capture of
// a trip and records definitive answers. Payout entries are left to the
// release path. It returns how many entries are still unresolved and the
// bookings whose capture was recorded, which joined the paid set.
func (m *moneyMover) resolvePending(ctx context.Context, tripID string) (int, []string, error) {
	entries, err := m.ledger.Stores().Audit.ListPendingByTrip(ctx, tripID)
	if err != nil {
		return 0, nil, err
	}

	unresolved := 0
	var captured []string

	for _, e := range entries {
		if e.Operation == domain.OperationPayout {
			continue
		}

		res, qerr := m.gateway.QueryStatus(ctx, gateway.OperationRef{
			Kind:      e.Operation,
			Token:     e.IdempotencyKey,
			ID:        e.GatewayRef,
			PaymentID: e.ParentRef,
			Since:     e.CreatedAt,
		})
		outcome := gateway.Classify(res, qerr)
		if outcome == gateway.OutcomeUnknown {
			unresolved++
			continue
		}

		ref := e.GatewayRef
		if res != nil && res.Ref != "" {
			ref = res.Ref
		}

		recorded := false
		err = m.ledger.WithinTx(ctx, func(st repository.Stores) error {
			recorded = false
			trip, err := st.Trips.GetForUpdate(ctx, tripID)
			if err != nil {
				return err
			}

			if outcome == gateway.OutcomeFailed {
				return st.Audit.Finalize(ctx, e.ID, domain.OutcomeFailed, ref, gateway.FailureReason(res, qerr))
			}

			switch e.Operation {
			case domain.OperationRefund:
				ok, err := m.applyRefund(ctx, st, trip, e, ref)
				if err != nil {
					return err
				}
				if !ok {
					trip.UpdatedAt = m.clock()
					return st.Trips.Update(ctx, trip)
				}
				return nil

			case domain.OperationCapture:
				err := st.Bookings.RecordPayment(ctx, e.BookingID, e.Amount, ref, m.clock())
				if errors.Is(err, repository.ErrInvalidTransition) {
					// The booking left PENDING meanwhile; the captured money is not on the ledger.
					reason := fmt.Sprintf("capture %s of %s on booking %s confirmed after the booking left pending", ref, e.Amount, e.BookingID)
					log.Printf("[SETTLEMENT] invariant violation: trip=%s %s", tripID, reason)
					trip.FlagForReview(reason)
					trip.UpdatedAt = m.clock()
					if err := st.Trips.Update(ctx, trip); err != nil {
						return err
					}
					return st.Audit.Finalize(ctx, e.ID, domain.OutcomeSucceeded, ref, "booking no longer pending")
				}
				if err != nil {
					return err
				}
				trip.PaidVersion++
				trip.UpdatedAt = m.clock()
				if err := st.Trips.Update(ctx, trip); err != nil {
					return err
				}
				recorded = true
				return st.Audit.Finalize(ctx, e.ID, domain.OutcomeSucceeded, ref, "")
			}
			return nil
		})
		if err != nil {
			return unresolved, captured, err
		}
		if recorded {
			captured = append(captured, e.BookingID)
		}

		log.Printf("[SETTLEMENT] resolved pending %s: trip=%s key=%s outcome=%v", e.Operation, tripID, e.IdempotencyKey, outcome)
	}

	return unresolved, captured, nil
}

// refundsInFlight returns the bookings of a trip with a refund whose outcome
// is not yet known.
func (m *moneyMover) refundsInFlight(ctx context.Context, tripID string) (map[string]bool, error) {
	pending, err := m.ledger.Stores().Audit.ListPendingByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	inFlight := make(map[string]bool)
	for _, e := range pending {
		if e.Operation == domain.OperationRefund {
			inFlight[e.BookingID] = true
		}
	}
	return inFlight, nil
}
