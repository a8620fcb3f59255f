package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"carpool/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationRefundIssued     NotificationType = "REFUND_ISSUED"
	NotificationPayoutSent       NotificationType = "PAYOUT_SENT"
	NotificationSettlementFailed NotificationType = "SETTLEMENT_FAILED"
)

// routing keys on the settlement events exchange
var notificationRoutingKeys = map[NotificationType]string{
	NotificationRefundIssued:     "refund.issued",
	NotificationPayoutSent:       "payout.sent",
	NotificationSettlementFailed: "settlement.failed",
}

// Notification represents a notification to be sent.
type Notification struct {
	ID          string                 `json:"id"`
	Type        NotificationType       `json:"type"`
	RecipientID string                 `json:"recipient_id,omitempty"` // passenger or driver ID
	TripID      string                 `json:"trip_id,omitempty"`
	BookingID   string                 `json:"booking_id,omitempty"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// SettlementFailure describes a money movement that needs attention.
type SettlementFailure struct {
	TripID    string
	BookingID string
	Reason    string
}

// Notifier is the outbound notification interface of the settlement engine.
type Notifier interface {
	NotifyRefundIssued(ctx context.Context, booking *domain.Booking, amount domain.Money) error
	NotifyPayoutSent(ctx context.Context, trip *domain.Trip, driverAmount domain.Money) error
	NotifySettlementFailed(ctx context.Context, failure SettlementFailure) error
}

// EventPublisher publishes a JSON message under a routing key.
type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// NotificationService logs notifications and, when a publisher is set,
// publishes them for the UI layer.
type NotificationService struct {
	publisher EventPublisher
}

// NewNotificationService creates a new NotificationService. publisher may be nil.
func NewNotificationService(publisher EventPublisher) *NotificationService {
	return &NotificationService{publisher: publisher}
}

// NotifyRefundIssued tells a passenger that money is on its way back.
func (s *NotificationService) NotifyRefundIssued(ctx context.Context, booking *domain.Booking, amount domain.Money) error {
	notification := Notification{
		Type:        NotificationRefundIssued,
		RecipientID: booking.PassengerID,
		TripID:      booking.TripID,
		BookingID:   booking.ID,
		Title:       "Refund Issued",
		Message:     fmt.Sprintf("A refund of %s has been issued for your booking", amount),
		Data: map[string]interface{}{
			"amount":      int64(amount),
			"amount_paid": int64(booking.AmountPaid),
		},
		CreatedAt: time.Now(),
	}
	return s.send(ctx, notification)
}

// NotifyPayoutSent tells the driver that the trip's earnings were paid out.
func (s *NotificationService) NotifyPayoutSent(ctx context.Context, trip *domain.Trip, driverAmount domain.Money) error {
	notification := Notification{
		Type:        NotificationPayoutSent,
		RecipientID: trip.DriverID,
		TripID:      trip.ID,
		Title:       "Payout Sent",
		Message:     fmt.Sprintf("Your earnings of %s %s have been sent", driverAmount, trip.Currency),
		Data: map[string]interface{}{
			"driver_amount":   int64(driverAmount),
			"payout_batch_id": trip.PayoutBatchID,
		},
		CreatedAt: time.Now(),
	}
	return s.send(ctx, notification)
}

// NotifySettlementFailed raises a money movement that needs manual resolution.
func (s *NotificationService) NotifySettlementFailed(ctx context.Context, failure SettlementFailure) error {
	notification := Notification{
		Type:      NotificationSettlementFailed,
		TripID:    failure.TripID,
		BookingID: failure.BookingID,
		Title:     "Settlement Needs Attention",
		Message:   failure.Reason,
		CreatedAt: time.Now(),
	}
	return s.send(ctx, notification)
}

// send logs the notification and hands it to the publisher.
func (s *NotificationService) send(ctx context.Context, notification Notification) error {
	notification.ID = uuid.NewString()

	log.Printf("[NOTIFICATION] Type=%s, Recipient=%s, Trip=%s, Booking=%s, Message=%s",
		notification.Type, notification.RecipientID, notification.TripID, notification.BookingID, notification.Message)

	if s.publisher == nil {
		return nil
	}

	if err := s.publisher.PublishJSON(ctx, notificationRoutingKeys[notification.Type], notification); err != nil {
		log.Printf("[NOTIFICATION] publish failed: type=%s err=%v", notification.Type, err)
		return err
	}

	return nil
}
