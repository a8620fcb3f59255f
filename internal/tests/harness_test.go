package tests

import (
	"context"
	"testing"
	"time"

	"carpool/internal/domain"
	"carpool/internal/pricing"
	"carpool/internal/service"
)

// harness wires a SettlementService to in-memory collaborators.
type harness struct {
	t        *testing.T
	ctx      context.Context
	ledger   *MockLedger
	gw       *MockGateway
	locks    *MockLockStore
	notifier *MockNotifier
	clock    *MockClock
	svc      *service.SettlementService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithConfig(t, service.SettlementConfig{
		Currency: "CHF",
		LockTTL:  30 * time.Second,
		LockWait: 2 * time.Second,
	})
}

func newHarnessWithConfig(t *testing.T, cfg service.SettlementConfig) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		ledger:   NewMockLedger(),
		gw:       NewMockGateway(),
		locks:    NewMockLockStore(),
		notifier: NewMockNotifier(),
		clock:    NewMockClock(time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)),
	}
	h.svc = service.NewSettlementService(service.SettlementDeps{
		Ledger:   h.ledger,
		Gateway:  h.gw,
		Locks:    h.locks,
		Notifier: h.notifier,
		Pricing:  pricing.NewCalculator(pricing.DefaultConfig()),
		Config:   cfg,
		Clock:    h.clock.Now,
	})
	return h
}

// publish creates a trip departing in one hour.
func (h *harness) publish(total domain.Money, seats int) *domain.Trip {
	h.t.Helper()
	trip, err := h.svc.PublishTrip(h.ctx, service.PublishTripRequest{
		DriverID:          "driver-1",
		PayoutDestination: "recp_driver_1",
		SeatCapacity:      seats,
		TotalPrice:        total,
		DepartureAt:       h.clock.Now().Add(time.Hour),
	})
	if err != nil {
		h.t.Fatalf("publish trip: %v", err)
	}
	return trip
}

func (h *harness) reserve(tripID, passengerID string) *domain.Booking {
	h.t.Helper()
	b, err := h.svc.ReserveSeat(h.ctx, service.ReserveSeatRequest{
		TripID:      tripID,
		PassengerID: passengerID,
		PayerRef:    "tok_visa",
	})
	if err != nil {
		h.t.Fatalf("reserve seat: %v", err)
	}
	return b
}

func (h *harness) pay(bookingID string) *service.PaymentResult {
	h.t.Helper()
	res, err := h.svc.PayBooking(h.ctx, bookingID)
	if err != nil {
		h.t.Fatalf("pay booking %s: %v", bookingID, err)
	}
	return res
}

// paidTrip publishes a trip and pays n bookings one after the other.
func (h *harness) paidTrip(total domain.Money, n int) (*domain.Trip, []*domain.Booking) {
	h.t.Helper()
	trip := h.publish(total, n)
	bookings := make([]*domain.Booking, 0, n)
	for i := 0; i < n; i++ {
		b := h.reserve(trip.ID, "passenger-"+string(rune('a'+i)))
		h.pay(b.ID)
		bookings = append(bookings, b)
	}
	return trip, bookings
}

// depart moves the clock past the departure time.
func (h *harness) depart() {
	h.clock.Advance(2 * time.Hour)
}

func (h *harness) booking(id string) *domain.Booking {
	h.t.Helper()
	b := h.ledger.Booking(id)
	if b == nil {
		h.t.Fatalf("booking %s not found", id)
	}
	return b
}

func (h *harness) trip(id string) *domain.Trip {
	h.t.Helper()
	t := h.ledger.Trip(id)
	if t == nil {
		h.t.Fatalf("trip %s not found", id)
	}
	return t
}

// assertConserved checks that every paid booking of a trip accounts for
// its money on the ledger, in the audit log and at the gateway.
func (h *harness) assertConserved(bookings []*domain.Booking) {
	h.t.Helper()
	for _, b := range bookings {
		stored := h.booking(b.ID)
		if stored.GatewayPaymentID == "" {
			continue
		}
		if stored.OriginalAmountPaid != stored.AmountPaid+stored.RefundTotal {
			h.t.Errorf("booking %s: original %s != held %s + refunded %s",
				b.ID, stored.OriginalAmountPaid, stored.AmountPaid, stored.RefundTotal)
		}
		if got := h.ledger.RefundedTotal(b.ID); got != stored.RefundTotal {
			h.t.Errorf("booking %s: audit refunds %s != refund_total %s", b.ID, got, stored.RefundTotal)
		}
		if got := h.gw.Refundable(stored.GatewayPaymentID); got != stored.AmountPaid {
			h.t.Errorf("booking %s: gateway holds %s, ledger holds %s", b.ID, got, stored.AmountPaid)
		}
	}
}

func findRefund(outcomes []service.RefundOutcome, bookingID string) (service.RefundOutcome, bool) {
	for _, o := range outcomes {
		if o.BookingID == bookingID {
			return o, true
		}
	}
	return service.RefundOutcome{}, false
}
