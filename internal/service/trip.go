package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"carpool/internal/domain"
	"carpool/internal/redis"
	"carpool/internal/repository"
)

// PublishTripRequest contains the parameters for publishing a trip.
type PublishTripRequest struct {
	DriverID          string
	PayoutDestination string
	SeatCapacity      int
	TotalPrice        domain.Money
	DepartureAt       time.Time
}

// PublishTrip creates a trip that accepts bookings.
func (s *SettlementService) PublishTrip(ctx context.Context, req PublishTripRequest) (*domain.Trip, error) {
	if req.DriverID == "" {
		return nil, ErrInvalidDriverID
	}
	if req.SeatCapacity < 1 {
		return nil, ErrInvalidSeatCapacity
	}
	if req.TotalPrice <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.DepartureAt.IsZero() {
		return nil, ErrInvalidDeparture
	}

	now := s.clock()
	trip := &domain.Trip{
		ID:                uuid.New().String(),
		DriverID:          req.DriverID,
		PayoutDestination: req.PayoutDestination,
		SeatCapacity:      req.SeatCapacity,
		SeatsAvailable:    req.SeatCapacity,
		TotalPrice:        req.TotalPrice,
		Currency:          s.cfg.Currency,
		DepartureAt:       req.DepartureAt,
		Published:         true,
		State:             domain.SettlementAwaitingPayments,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.ledger.Stores().Trips.Create(ctx, trip); err != nil {
		return nil, err
	}

	log.Printf("[SETTLEMENT] trip published: trip=%s driver=%s total=%s seats=%d", trip.ID, trip.DriverID, trip.TotalPrice, trip.SeatCapacity)
	return trip, nil
}

// UpdateTotalPrice changes the price of a trip nobody has paid for yet.
func (s *SettlementService) UpdateTotalPrice(ctx context.Context, tripID string, total domain.Money) (*domain.Trip, error) {
	if total <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := s.loadTrip(ctx, tripID); err != nil {
		return nil, err
	}

	var updated *domain.Trip
	err := s.withTripLock(ctx, tripID, "UpdateTotalPrice", func(ctx context.Context) error {
		return s.ledger.WithinTx(ctx, func(st repository.Stores) error {
			trip, err := st.Trips.GetForUpdate(ctx, tripID)
			if err != nil {
				return err
			}
			if trip.State != domain.SettlementAwaitingPayments {
				return ErrIllegalTransition
			}

			bookings, err := st.Bookings.ListByTrip(ctx, tripID)
			if err != nil {
				return err
			}
			for _, b := range bookings {
				if !b.PaidAt.IsZero() || b.GatewayPaymentID != "" {
					return ErrPriceLocked
				}
			}

			trip.TotalPrice = total
			trip.UpdatedAt = s.clock()
			if err := st.Trips.Update(ctx, trip); err != nil {
				return err
			}
			updated = trip
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetTrip returns a trip.
func (s *SettlementService) GetTrip(ctx context.Context, tripID string) (*domain.Trip, error) {
	return s.loadTrip(ctx, tripID)
}

// GetTripSummary returns the settlement view of a trip and its bookings,
// served from cache when possible.
func (s *SettlementService) GetTripSummary(ctx context.Context, tripID string) (*redis.CachedTripSummary, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}

	if s.cache != nil {
		cached, err := s.cache.GetTripSummary(ctx, tripID)
		if err != nil {
			log.Printf("[SETTLEMENT] cache read failed: trip=%s err=%v", tripID, err)
		} else if cached != nil {
			return cached, nil
		}
	}

	stores := s.ledger.Stores()
	trip, err := stores.Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	bookings, err := stores.Bookings.ListByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}

	summary := &redis.CachedTripSummary{
		ID:                 trip.ID,
		State:              string(trip.State),
		Currency:           trip.Currency,
		TotalPrice:         int64(trip.TotalPrice),
		SeatsAvailable:     trip.SeatsAvailable,
		DriverConfirmed:    trip.DriverConfirmed,
		FundsReleased:      trip.FundsReleased,
		DriverPayoutAmount: int64(trip.DriverPayoutAmount),
		CommissionAmount:   int64(trip.CommissionAmount),
		ReviewRequired:     trip.ReviewRequired,
		ReviewReason:       trip.ReviewReason,
		Bookings:           make([]redis.CachedBooking, 0, len(bookings)),
	}
	for _, b := range bookings {
		summary.Bookings = append(summary.Bookings, redis.CachedBooking{
			ID:                 b.ID,
			PassengerID:        b.PassengerID,
			Status:             string(b.Status),
			AmountPaid:         int64(b.AmountPaid),
			OriginalAmountPaid: int64(b.OriginalAmountPaid),
			RefundTotal:        int64(b.RefundTotal),
			PassengerConfirmed: b.PassengerConfirmed,
		})
	}

	if s.cache != nil {
		if err := s.cache.SetTripSummary(ctx, summary); err != nil {
			log.Printf("[SETTLEMENT] cache write failed: trip=%s err=%v", tripID, err)
		}
	}
	return summary, nil
}

// ListTripAudit returns the money log of a trip.
func (s *SettlementService) ListTripAudit(ctx context.Context, tripID string) ([]*domain.AuditEntry, error) {
	if _, err := s.loadTrip(ctx, tripID); err != nil {
		return nil, err
	}
	return s.ledger.Stores().Audit.ListByTrip(ctx, tripID)
}
