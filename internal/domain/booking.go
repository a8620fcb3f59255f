package domain

import "time"

// PaymentStatus represents the payment state of a booking.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// Booking is one passenger's claim on a seat of a trip.
type Booking struct {
	ID                 string
	TripID             string
	PassengerID        string
	PayerRef           string // card token or gateway customer used for capture
	AmountPaid         Money  // amount currently held
	OriginalAmountPaid Money
	RefundTotal        Money
	Status             PaymentStatus
	GatewayPaymentID   string
	LastRefundID       string
	LastRefundAt       time.Time
	PaidAt             time.Time
	PassengerConfirmed bool
	ConfirmedAt        time.Time
	SettledAt          time.Time
	CancelledAt        time.Time
	CreatedAt          time.Time
}

// Paid reports whether the booking counts towards the paid passenger set.
func (b *Booking) Paid() bool {
	return b.Status == PaymentStatusCompleted
}

// RefundOwed reports whether money is still held for a booking that no longer travels.
func (b *Booking) RefundOwed() bool {
	return b.Status == PaymentStatusCancelled && b.AmountPaid > 0
}
