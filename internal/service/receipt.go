package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carpool/internal/domain"
)

// ReceiptLine is one money movement on a booking receipt.
type ReceiptLine struct {
	Operation  domain.Operation `json:"operation"`
	Amount     domain.Money     `json:"amount"`
	Outcome    domain.Outcome   `json:"outcome"`
	GatewayRef string           `json:"gateway_ref,omitempty"`
	Trigger    string           `json:"trigger"`
	At         time.Time        `json:"at"`
}

// Receipt summarizes what a passenger paid and got back for one booking.
type Receipt struct {
	BookingID   string               `json:"booking_id"`
	TripID      string               `json:"trip_id"`
	PassengerID string               `json:"passenger_id"`
	Currency    string               `json:"currency"`
	Status      domain.PaymentStatus `json:"status"`
	Charged     domain.Money         `json:"charged"`
	Refunded    domain.Money         `json:"refunded"`
	Net         domain.Money         `json:"net"`
	Lines       []ReceiptLine        `json:"lines"`
	CreatedAt   time.Time            `json:"created_at"`
}

// GetReceipt builds the receipt of a booking from its ledger record and
// money log.
func (s *SettlementService) GetReceipt(ctx context.Context, bookingID string) (*Receipt, error) {
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	trip, err := s.loadTrip(ctx, booking.TripID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledger.Stores().Audit.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		BookingID:   booking.ID,
		TripID:      booking.TripID,
		PassengerID: booking.PassengerID,
		Currency:    trip.Currency,
		Status:      booking.Status,
		Charged:     booking.OriginalAmountPaid,
		Refunded:    booking.RefundTotal,
		Net:         booking.AmountPaid,
		Lines:       make([]ReceiptLine, 0, len(entries)),
		CreatedAt:   s.clock(),
	}
	for _, e := range entries {
		receipt.Lines = append(receipt.Lines, ReceiptLine{
			Operation:  e.Operation,
			Amount:     e.Amount,
			Outcome:    e.Outcome,
			GatewayRef: e.GatewayRef,
			Trigger:    e.Trigger,
			At:         e.CreatedAt,
		})
	}

	return receipt, nil
}

// FormatReceipt formats the receipt as plain text (for email/print).
func FormatReceipt(r *Receipt) string {
	var b strings.Builder

	b.WriteString("=====================================\n")
	b.WriteString("        CARPOOL RECEIPT\n")
	b.WriteString("=====================================\n")
	fmt.Fprintf(&b, "Booking: %s\n", r.BookingID)
	fmt.Fprintf(&b, "Trip:    %s\n", r.TripID)
	fmt.Fprintf(&b, "Date:    %s\n\n", r.CreatedAt.Format("Jan 02, 2006 3:04 PM"))

	b.WriteString("MOVEMENTS\n")
	b.WriteString("-------------------------------------\n")
	for _, l := range r.Lines {
		fmt.Fprintf(&b, "%-8s %10s %s  %s\n", l.Operation, formatMoney(l.Amount, r.Currency), l.Outcome, l.At.Format("2006-01-02"))
	}
	b.WriteString("-------------------------------------\n")
	fmt.Fprintf(&b, "Charged:  %s\n", formatMoney(r.Charged, r.Currency))
	fmt.Fprintf(&b, "Refunded: %s\n", formatMoney(r.Refunded, r.Currency))
	fmt.Fprintf(&b, "NET:      %s\n", formatMoney(r.Net, r.Currency))
	fmt.Fprintf(&b, "Status:   %s\n", r.Status)
	b.WriteString("=====================================\n")

	return b.String()
}

func formatMoney(m domain.Money, currency string) string {
	return currency + " " + m.String()
}
