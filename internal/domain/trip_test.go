package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to SettlementState
		want     bool
	}{
		{SettlementAwaitingPayments, SettlementAwaitingCompletion, true},
		{SettlementAwaitingCompletion, SettlementAwaitingDualConfirmation, true},
		{SettlementAwaitingDualConfirmation, SettlementFundsReleased, true},
		{SettlementAwaitingDualConfirmation, SettlementPayoutPendingManual, true},
		{SettlementPayoutPendingManual, SettlementFundsReleased, true},
		{SettlementAwaitingPayments, SettlementDriverCancelled, true},
		{SettlementDriverCancelled, SettlementRefunding, true},
		{SettlementRefunding, SettlementRefunded, true},

		{SettlementAwaitingPayments, SettlementFundsReleased, false},
		{SettlementFundsReleased, SettlementDriverCancelled, false},
		{SettlementPayoutPendingManual, SettlementDriverCancelled, false},
		{SettlementRefunded, SettlementAwaitingPayments, false},
		{SettlementRefunding, SettlementFundsReleased, false},
	}

	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTrip_TransitionToRejectsIllegalMove(t *testing.T) {
	t.Parallel()

	trip := &Trip{State: SettlementAwaitingPayments}
	if trip.TransitionTo(SettlementFundsReleased) {
		t.Fatal("expected release from AWAITING_PAYMENTS to be rejected")
	}
	if trip.State != SettlementAwaitingPayments {
		t.Errorf("state changed to %s on rejected transition", trip.State)
	}
	if !trip.TransitionTo(SettlementAwaitingCompletion) {
		t.Fatal("expected AWAITING_PAYMENTS -> AWAITING_COMPLETION to succeed")
	}
}

func TestSettlementStateFlags(t *testing.T) {
	t.Parallel()

	if !SettlementRefunded.Terminal() || !SettlementFundsReleased.Terminal() {
		t.Error("REFUNDED and FUNDS_RELEASED must be terminal")
	}
	if SettlementRefunding.Terminal() {
		t.Error("REFUNDING must not be terminal")
	}
	if !SettlementRefunding.Cancelled() || SettlementAwaitingCompletion.Cancelled() {
		t.Error("unexpected Cancelled() result")
	}
	if SettlementState("SHIPPED").Valid() {
		t.Error("unknown state reported valid")
	}
}

func TestTrip_Departed(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	trip := &Trip{DepartureAt: now}
	if !trip.Departed(now) {
		t.Error("trip should count as departed at departure time")
	}
	if trip.Departed(now.Add(-time.Minute)) {
		t.Error("trip should not be departed before departure time")
	}
	if (&Trip{}).Departed(now) {
		t.Error("trip without departure time should never be departed")
	}
}
