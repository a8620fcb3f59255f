package tests

import (
	"errors"
	"strings"
	"testing"

	"carpool/internal/domain"
	"carpool/internal/gateway"
	"carpool/internal/service"
)

// ──────────────────────────────────────────────
// 3. GATEWAY TIMEOUTS AND FAILURES
// ──────────────────────────────────────────────

func TestPayBooking_TimeoutResolvedByStatusQuery(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	trip := h.publish(1785, 2)
	b1 := h.reserve(trip.ID, "passenger-1")
	b2 := h.reserve(trip.ID, "passenger-2")
	h.pay(b1.ID)

	h.gw.ScriptCapture(TimeoutAfterApply)
	res, err := h.svc.PayBooking(h.ctx, b2.ID)
	if err != nil {
		t.Fatalf("expected an unknown capture to be reported without error, got %v", err)
	}
	if res.Status != service.PaymentPending {
		t.Fatalf("expected PENDING, got %s", res.Status)
	}
	if got := h.booking(b2.ID).Status; got != domain.PaymentStatusPending {
		t.Fatalf("booking must stay PENDING until the outcome is known, got %s", got)
	}

	rec, err := h.svc.Reconcile(h.ctx, trip.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rec.PaidCount != 2 {
		t.Fatalf("expected the resolved capture to count, got %d payers", rec.PaidCount)
	}
	// The resolved capture is reconciled under its own payment trigger.
	if got := h.booking(b1.ID); got.RefundTotal != 890 || got.AmountPaid != 895 {
		t.Errorf("expected 8.90 refund to the first payer, got refunded=%s held=%s", got.RefundTotal, got.AmountPaid)
	}
	if entries := h.ledger.Entries(trip.ID, domain.OperationRefund); len(entries) != 1 || entries[0].Trigger != "paid:"+b2.ID {
		t.Errorf("expected one refund under the payment trigger, got %+v", entries)
	}
	if got := h.booking(b2.ID); got.Status != domain.PaymentStatusCompleted || got.AmountPaid != 895 {
		t.Errorf("expected b2 COMPLETED holding 8.95, got %s %s", got.Status, got.AmountPaid)
	}
	for _, e := range h.ledger.Entries(trip.ID, domain.OperationCapture) {
		if e.Outcome != domain.OutcomeSucceeded {
			t.Errorf("capture %s left %s", e.IdempotencyKey, e.Outcome)
		}
	}
	h.assertConserved([]*domain.Booking{b1, b2})
}

func TestResolvedCapture_ReconciledBeforeRelease(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	trip := h.publish(1785, 2)
	b1 := h.reserve(trip.ID, "passenger-1")
	b2 := h.reserve(trip.ID, "passenger-2")
	h.pay(b1.ID)

	h.gw.ScriptCapture(TimeoutAfterApply)
	if res, err := h.svc.PayBooking(h.ctx, b2.ID); err != nil || res.Status != service.PaymentPending {
		t.Fatalf("expected PENDING capture, got %+v %v", res, err)
	}

	h.depart()
	if _, err := h.svc.OnDriverConfirmed(h.ctx, trip.ID); err != nil {
		t.Fatalf("driver confirm: %v", err)
	}
	rel, err := h.svc.OnPassengerConfirmed(h.ctx, b1.ID)
	if err != nil {
		t.Fatalf("passenger confirm: %v", err)
	}

	if got := h.booking(b1.ID); got.AmountPaid != 895 || got.RefundTotal != 890 {
		t.Errorf("expected the first payer refunded to 8.95, got held=%s refunded=%s", got.AmountPaid, got.RefundTotal)
	}
	if !rel.Released || rel.Gross != 1790 || rel.DriverAmount != 1610 || rel.CommissionAmount != 180 {
		t.Fatalf("expected release of 17.90 (driver 16.10, commission 1.80), got %+v", rel)
	}
	h.assertConserved([]*domain.Booking{b1, b2})
}

func TestRelease_ReconcilesOverpaidLedgerFirst(t *testing.T) {
	t.Parallel()

	t.Run("refund succeeds", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		trip, b1, b2 := seedOverpaidTrip(h)

		h.depart()
		if _, err := h.svc.OnDriverConfirmed(h.ctx, trip.ID); err != nil {
			t.Fatalf("driver confirm: %v", err)
		}
		rel, err := h.svc.OnPassengerConfirmed(h.ctx, b2.ID)
		if err != nil {
			t.Fatalf("passenger confirm: %v", err)
		}
		if !rel.Released || rel.Gross != 1790 {
			t.Fatalf("expected release of 17.90 after the refund, got %+v", rel)
		}
		if got := h.booking(b1.ID).RefundTotal; got != 890 {
			t.Errorf("expected 8.90 refunded before release, got %s", got)
		}
	})

	t.Run("refund declined", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		trip, _, b2 := seedOverpaidTrip(h)

		h.depart()
		if _, err := h.svc.OnDriverConfirmed(h.ctx, trip.ID); err != nil {
			t.Fatalf("driver confirm: %v", err)
		}
		h.gw.ScriptRefund(Decline)
		rel, err := h.svc.OnPassengerConfirmed(h.ctx, b2.ID)
		if err != nil {
			t.Fatalf("passenger confirm: %v", err)
		}
		if rel.Released || !strings.Contains(rel.Reason, "over-payments") {
			t.Fatalf("release must wait for the refund, got %+v", rel)
		}
		if h.gw.PayoutCallCount != 0 {
			t.Errorf("no payout may be sent, got %d", h.gw.PayoutCallCount)
		}
		if h.trip(trip.ID).FundsReleased {
			t.Error("funds released over an unreconciled ledger")
		}
	})
}

func TestPayBooking_LostCaptureIsRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	trip := h.publish(1000, 1)
	b := h.reserve(trip.ID, "passenger-1")

	h.gw.ScriptCapture(TimeoutBeforeApply)
	res, err := h.svc.PayBooking(h.ctx, b.ID)
	if err != nil || res.Status != service.PaymentPending {
		t.Fatalf("expected PENDING, got %v %v", res, err)
	}

	// The status query finds nothing, so the first attempt is failed and a
	// new capture goes out.
	res = h.pay(b.ID)
	if res.Status != service.PaymentRecorded {
		t.Errorf("expected RECORDED, got %s", res.Status)
	}
	if h.gw.CaptureCallCount != 2 {
		t.Errorf("expected 2 capture calls, got %d", h.gw.CaptureCallCount)
	}

	entries := h.ledger.Entries(trip.ID, domain.OperationCapture)
	if len(entries) != 2 || entries[0].Outcome != domain.OutcomeFailed || entries[1].Outcome != domain.OutcomeSucceeded {
		t.Errorf("expected FAILED then SUCCEEDED captures, got %+v", entries)
	}
}

func TestPayBooking_UnknownCaptureBlocksRetry(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	trip := h.publish(1000, 1)
	b := h.reserve(trip.ID, "passenger-1")

	h.gw.ScriptCapture(TimeoutBeforeApply)
	if _, err := h.svc.PayBooking(h.ctx, b.ID); err != nil {
		t.Fatalf("first attempt: %v", err)
	}

	h.gw.SetQueryUnknown(true)
	_, err := h.svc.PayBooking(h.ctx, b.ID)
	if !errors.Is(err, service.ErrOperationInFlight) {
		t.Fatalf("expected ErrOperationInFlight, got %v", err)
	}
	if h.gw.CaptureCallCount != 1 {
		t.Errorf("no second capture may be sent, got %d", h.gw.CaptureCallCount)
	}
}

func TestPayBooking_Declined(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	trip := h.publish(1000, 1)
	b, err := h.svc.ReserveSeat(h.ctx, service.ReserveSeatRequest{
		TripID:      trip.ID,
		PassengerID: "passenger-1",
		PayerRef:    gateway.DeclinedPayerRef,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, err = h.svc.PayBooking(h.ctx, b.ID)
	if !errors.Is(err, service.ErrPaymentDeclined) {
		t.Fatalf("expected ErrPaymentDeclined, got %v", err)
	}
	if service.KindOf(err) != service.KindGateway {
		t.Errorf("expected gateway error kind, got %s", service.KindOf(err))
	}
	if got := h.booking(b.ID).Status; got != domain.PaymentStatusPending {
		t.Errorf("declined booking must stay PENDING, got %s", got)
	}
	entries := h.ledger.Entries(trip.ID, domain.OperationCapture)
	if len(entries) != 1 || entries[0].Outcome != domain.OutcomeFailed {
		t.Errorf("expected one FAILED capture entry, got %+v", entries)
	}
}

func TestRefundTimeout_DefersReleaseUntilResolved(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	trip := h.publish(1785, 2)
	b1 := h.reserve(trip.ID, "passenger-1")
	b2 := h.reserve(trip.ID, "passenger-2")
	h.pay(b1.ID)

	h.gw.ScriptRefund(TimeoutAfterApply)
	res := h.pay(b2.ID)
	refund, ok := findRefund(res.Reconcile.Refunds, b1.ID)
	if !ok || refund.Status != service.RefundUnknown {
		t.Fatalf("expected PENDING refund, got %+v", res.Reconcile.Refunds)
	}
	if got := h.booking(b1.ID).AmountPaid; got != 1785 {
		t.Fatalf("ledger must not move before the refund is confirmed, holds %s", got)
	}

	h.gw.SetQueryUnknown(true)
	refunds := h.gw.RefundCallCount

	rec, err := h.svc.Reconcile(h.ctx, trip.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if o, _ := findRefund(rec.Refunds, b1.ID); o.Status != service.RefundUnknown {
		t.Errorf("booking with a refund in flight must be held, got %+v", rec.Refunds)
	}
	if h.gw.RefundCallCount != refunds {
		t.Error("no second refund may be sent while the first is unknown")
	}

	h.depart()
	if _, err := h.svc.OnDriverConfirmed(h.ctx, trip.ID); err != nil {
		t.Fatalf("driver confirm: %v", err)
	}
	rel, err := h.svc.OnPassengerConfirmed(h.ctx, b2.ID)
	if err != nil {
		t.Fatalf("passenger confirm: %v", err)
	}
	if rel.Released || !strings.Contains(rel.Reason, "unresolved") {
		t.Fatalf("release must wait for the refund, got %+v", rel)
	}

	h.gw.SetQueryUnknown(false)
	rel, err = h.svc.OnPassengerConfirmed(h.ctx, b2.ID)
	if err != nil {
		t.Fatalf("passenger confirm: %v", err)
	}
	if !rel.Released || rel.Gross != 1790 {
		t.Fatalf("expected release of 17.90, got %+v", rel)
	}
	h.assertConserved([]*domain.Booking{b1, b2})
}

func TestRefundTimeout_LostRefundIsReissued(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	trip := h.publish(1785, 2)
	b1 := h.reserve(trip.ID, "passenger-1")
	b2 := h.reserve(trip.ID, "passenger-2")
	h.pay(b1.ID)

	h.gw.ScriptRefund(TimeoutBeforeApply)
	h.pay(b2.ID)

	rec, err := h.svc.Reconcile(h.ctx, trip.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	refund, ok := findRefund(rec.Refunds, b1.ID)
	if !ok || refund.Status != service.RefundIssued || refund.Amount != 890 {
		t.Fatalf("expected the refund to be reissued, got %+v", rec.Refunds)
	}

	refunds := h.ledger.Entries(trip.ID, domain.OperationRefund)
	if len(refunds) != 2 || refunds[0].Outcome != domain.OutcomeFailed {
		t.Errorf("expected the lost refund FAILED and a new one, got %+v", refunds)
	}
	h.assertConserved([]*domain.Booking{b1, b2})
}

func TestRefund_NoDestinationIsDeferred(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	trip, bookings := h.paidTrip(1000, 1)

	h.gw.ScriptRefund(NoDestination)
	res, err := h.svc.OnTripCancelled(h.ctx, trip.ID)
	if err != nil {
		t.Fatalf("cancel trip: %v", err)
	}
	if len(res.Refunds) != 1 || res.Refunds[0].Status != service.RefundDeferred {
		t.Fatalf("expected DEFERRED refund, got %+v", res.Refunds)
	}
	if res.State != domain.SettlementRefunding {
		t.Errorf("expected REFUNDING while money is held, got %s", res.State)
	}

	retry, err := h.svc.RetryRefund(h.ctx, bookings[0].ID)
	if err != nil {
		t.Fatalf("retry refund: %v", err)
	}
	if len(retry.Refunds) != 1 || retry.Refunds[0].Status != service.RefundIssued {
		t.Fatalf("expected the retry to refund, got %+v", retry.Refunds)
	}
	if retry.State != domain.SettlementRefunded {
		t.Errorf("expected REFUNDED, got %s", retry.State)
	}

	if _, err := h.svc.RetryRefund(h.ctx, bookings[0].ID); !errors.Is(err, service.ErrNothingToRefund) {
		t.Errorf("expected ErrNothingToRefund, got %v", err)
	}
	h.assertConserved(bookings)
}

func TestOnTripCancelled_PartialFailureLeavesRefunding(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	trip, bookings := h.paidTrip(1790, 2)

	h.gw.ScriptRefund(Decline)
	res, err := h.svc.OnTripCancelled(h.ctx, trip.ID)
	if err != nil {
		t.Fatalf("cancel trip: %v", err)
	}
	if res.State != domain.SettlementRefunding {
		t.Fatalf("expected REFUNDING, got %s", res.State)
	}

	var failed string
	for _, o := range res.Refunds {
		if o.Status == service.RefundFailed {
			failed = o.BookingID
		}
	}
	if failed == "" {
		t.Fatalf("expected one failed refund, got %+v", res.Refunds)
	}
	if h.notifier.FailureCount() == 0 {
		t.Error("failed refund must be reported")
	}

	retry, err := h.svc.RetryRefund(h.ctx, failed)
	if err != nil {
		t.Fatalf("retry refund: %v", err)
	}
	if retry.State != domain.SettlementRefunded {
		t.Errorf("expected REFUNDED after retry, got %s", retry.State)
	}
	h.assertConserved(bookings)
}

// ──────────────────────────────────────────────
// 4. DRIVER PAYOUT
// ──────────────────────────────────────────────

// confirmedTrip returns a trip whose driver and first passenger confirmed,
// with the payout behavior scripted before release.
func confirmedTrip(h *harness, payout ...Behavior) (*domain.Trip, []*domain.Booking, *service.ReleaseResult) {
	h.t.Helper()
	trip, bookings := h.paidTrip(1790, 2)
	h.depart()
	if _, err := h.svc.OnDriverConfirmed(h.ctx, trip.ID); err != nil {
		h.t.Fatalf("driver confirm: %v", err)
	}
	h.gw.ScriptPayout(payout...)
	res, err := h.svc.OnPassengerConfirmed(h.ctx, bookings[0].ID)
	if err != nil {
		h.t.Fatalf("passenger confirm: %v", err)
	}
	return trip, bookings, res
}

func TestPayout_FailureParksTripForManualRetry(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	trip, _, res := confirmedTrip(h, Decline)
	if res.Released || res.State != domain.SettlementPayoutPendingManual {
		t.Fatalf("expected PAYOUT_PENDING_MANUAL, got %+v", res)
	}
	if h.trip(trip.ID).FundsReleased {
		t.Fatal("funds must not be marked released after a failed payout")
	}
	if h.notifier.FailureCount() == 0 {
		t.Error("failed payout must be reported")
	}
	if _, err := h.svc.OnTripCancelled(h.ctx, trip.ID); !errors.Is(err, service.ErrIllegalTransition) {
		t.Errorf("cancel during manual payout must be rejected, got %v", err)
	}

	retried, err := h.svc.RetryPayout(h.ctx, trip.ID)
	if err != nil {
		t.Fatalf("retry payout: %v", err)
	}
	if !retried.Released || retried.State != domain.SettlementFundsReleased {
		t.Fatalf("expected release on retry, got %+v", retried)
	}

	payouts := h.ledger.Entries(trip.ID, domain.OperationPayout)
	if len(payouts) != 2 {
		t.Fatalf("expected 2 payout attempts, got %d", len(payouts))
	}
	if payouts[0].Outcome != domain.OutcomeFailed || payouts[1].Outcome != domain.OutcomeSucceeded {
		t.Errorf("expected FAILED then SUCCEEDED, got %s, %s", payouts[0].Outcome, payouts[1].Outcome)
	}
	if payouts[0].IdempotencyKey == payouts[1].IdempotencyKey {
		t.Error("each payout attempt needs its own key")
	}

	if _, err := h.svc.RetryPayout(h.ctx, trip.ID); !errors.Is(err, service.ErrIllegalTransition) {
		t.Errorf("retry after release must be rejected, got %v", err)
	}
	if h.notifier.PayoutCount() != 1 {
		t.Errorf("expected one payout notification, got %d", h.notifier.PayoutCount())
	}
}

func TestPayout_UnknownOutcomeResolvedOnRetry(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	trip, _, res := confirmedTrip(h, TimeoutAfterApply)
	if res.State != domain.SettlementPayoutPendingManual {
		t.Fatalf("expected PAYOUT_PENDING_MANUAL, got %s", res.State)
	}

	h.gw.SetQueryUnknown(true)
	if _, err := h.svc.RetryPayout(h.ctx, trip.ID); !errors.Is(err, service.ErrOperationInFlight) {
		t.Fatalf("expected ErrOperationInFlight, got %v", err)
	}

	h.gw.SetQueryUnknown(false)
	retried, err := h.svc.RetryPayout(h.ctx, trip.ID)
	if err != nil {
		t.Fatalf("retry payout: %v", err)
	}
	if !retried.Released {
		t.Fatalf("expected release, got %+v", retried)
	}
	if h.gw.PayoutCallCount != 1 {
		t.Errorf("the confirmed payout must not be sent twice, got %d calls", h.gw.PayoutCallCount)
	}
	if retried.DriverAmount+retried.CommissionAmount != 1790 {
		t.Errorf("split must cover held funds, got %s + %s", retried.DriverAmount, retried.CommissionAmount)
	}
}

func TestRelease_ExactlyOnceUnderConcurrentConfirmations(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	trip, bookings := h.paidTrip(2705, 3)
	h.depart()

	errs := make(chan error, 6)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := h.svc.OnDriverConfirmed(h.ctx, trip.ID)
			errs <- err
		}()
	}
	for _, b := range bookings {
		id := b.ID
		go func() {
			_, err := h.svc.OnPassengerConfirmed(h.ctx, id)
			errs <- err
		}()
	}
	for i := 0; i < 6; i++ {
		if err := <-errs; err != nil {
			t.Errorf("confirmation failed: %v", err)
		}
	}

	if h.gw.PayoutCallCount != 1 {
		t.Errorf("expected exactly one payout, got %d", h.gw.PayoutCallCount)
	}
	if h.notifier.PayoutCount() != 1 {
		t.Errorf("expected exactly one payout notification, got %d", h.notifier.PayoutCount())
	}
	if !h.trip(trip.ID).FundsReleased {
		t.Error("funds not released")
	}
}
