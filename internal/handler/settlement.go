package handler

import (
	"context"

	"carpool/internal/domain"
	"carpool/internal/redis"
	"carpool/internal/service"
)

// Settlement is the settlement engine as seen by the HTTP layer.
type Settlement interface {
	PublishTrip(ctx context.Context, req service.PublishTripRequest) (*domain.Trip, error)
	UpdateTotalPrice(ctx context.Context, tripID string, total domain.Money) (*domain.Trip, error)
	GetTrip(ctx context.Context, tripID string) (*domain.Trip, error)
	GetTripSummary(ctx context.Context, tripID string) (*redis.CachedTripSummary, error)
	ListTripAudit(ctx context.Context, tripID string) ([]*domain.AuditEntry, error)
	OnTripCancelled(ctx context.Context, tripID string) (*service.CancellationResult, error)
	OnDriverConfirmed(ctx context.Context, tripID string) (*service.ReleaseResult, error)
	Reconcile(ctx context.Context, tripID string) (*service.ReconcileResult, error)
	RetryPayout(ctx context.Context, tripID string) (*service.ReleaseResult, error)

	ReserveSeat(ctx context.Context, req service.ReserveSeatRequest) (*domain.Booking, error)
	PayBooking(ctx context.Context, bookingID string) (*service.PaymentResult, error)
	GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error)
	ListBookingAudit(ctx context.Context, bookingID string) ([]*domain.AuditEntry, error)
	GetReceipt(ctx context.Context, bookingID string) (*service.Receipt, error)
	OnBookingCancelled(ctx context.Context, bookingID string) (*service.CancellationResult, error)
	OnPassengerConfirmed(ctx context.Context, bookingID string) (*service.ReleaseResult, error)
	RetryRefund(ctx context.Context, bookingID string) (*service.CancellationResult, error)

	OnPaymentCompleted(ctx context.Context, evt service.PaymentCompleted) (*service.PaymentResult, error)
}

var _ Settlement = (*service.SettlementService)(nil)
