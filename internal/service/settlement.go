package service

import (
	"context"
	"log"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"carpool/internal/domain"
	"carpool/internal/gateway"
	"carpool/internal/pricing"
	"carpool/internal/redis"
	"carpool/internal/repository"
)

// SettlementConfig holds the tunables of the settlement engine.
type SettlementConfig struct {
	Currency string
	LockTTL  time.Duration // lifetime of the per-trip lock
	LockWait time.Duration // how long an operation waits for the lock
}

// DefaultSettlementConfig returns the default settlement configuration.
func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		Currency: "CHF",
		LockTTL:  30 * time.Second,
		LockWait: 5 * time.Second,
	}
}

// SettlementDeps are the collaborators of a SettlementService.
type SettlementDeps struct {
	Ledger   repository.Ledger
	Gateway  gateway.Gateway
	Locks    redis.LockStoreInterface
	Cache    redis.CacheStoreInterface // optional
	Notifier Notifier
	Pricing  *pricing.Calculator
	Config   SettlementConfig
	Clock    func() time.Time
}

// SettlementService owns the settlement lifecycle of trips: payments,
// reconciliation, cancellations, confirmations and the driver payout.
// Every operation that touches a trip's money runs under the trip lock.
type SettlementService struct {
	ledger     repository.Ledger
	gateway    gateway.Gateway
	locks      redis.LockStoreInterface
	cache      redis.CacheStoreInterface
	notifier   Notifier
	pricing    *pricing.Calculator
	cfg        SettlementConfig
	clock      func() time.Time
	mover      *moneyMover
	reconciler *Reconciler
}

// NewSettlementService creates a new SettlementService.
func NewSettlementService(deps SettlementDeps) *SettlementService {
	if deps.Pricing == nil {
		deps.Pricing = pricing.NewCalculator(pricing.DefaultConfig())
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Notifier == nil {
		deps.Notifier = NewNotificationService(nil)
	}
	defaults := DefaultSettlementConfig()
	if deps.Config.Currency == "" {
		deps.Config.Currency = defaults.Currency
	}
	if deps.Config.LockTTL <= 0 {
		deps.Config.LockTTL = defaults.LockTTL
	}
	if deps.Config.LockWait <= 0 {
		deps.Config.LockWait = defaults.LockWait
	}

	mover := &moneyMover{
		ledger:   deps.Ledger,
		gateway:  deps.Gateway,
		notifier: deps.Notifier,
		clock:    deps.Clock,
	}

	return &SettlementService{
		ledger:     deps.Ledger,
		gateway:    deps.Gateway,
		locks:      deps.Locks,
		cache:      deps.Cache,
		notifier:   deps.Notifier,
		pricing:    deps.Pricing,
		cfg:        deps.Config,
		clock:      deps.Clock,
		mover:      mover,
		reconciler: newReconciler(deps.Ledger, mover, deps.Pricing, deps.Notifier),
	}
}

const lockPollInterval = 50 * time.Millisecond

// withTripLock runs fn while holding the distributed lock of a trip.
// It waits up to LockWait for the lock and returns ErrTripBusy after that.
func (s *SettlementService) withTripLock(ctx context.Context, tripID string, name string, fn func(ctx context.Context) error) error {
	defer newrelic.FromContext(ctx).StartSegment("settlement/" + name).End()

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()

	var token string
	for {
		t, ok, err := s.locks.AcquireTripLock(ctx, tripID, s.cfg.LockTTL)
		if err != nil {
			return err
		}
		if ok {
			token = t
			break
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrTripBusy
		case <-time.After(lockPollInterval):
		}
	}

	defer func() {
		if err := s.locks.ReleaseTripLock(context.WithoutCancel(ctx), tripID, token); err != nil {
			log.Printf("[SETTLEMENT] failed to release lock: trip=%s err=%v", tripID, err)
		}
		s.invalidate(context.WithoutCancel(ctx), tripID)
	}()

	return fn(ctx)
}

func (s *SettlementService) invalidate(ctx context.Context, tripID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTrip(ctx, tripID); err != nil {
		log.Printf("[SETTLEMENT] failed to invalidate cache: trip=%s err=%v", tripID, err)
	}
}

// loadTrip reads a trip outside a transaction and maps a missing row.
func (s *SettlementService) loadTrip(ctx context.Context, tripID string) (*domain.Trip, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}
	trip, err := s.ledger.Stores().Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return trip, nil
}

// loadBooking reads a booking outside a transaction.
func (s *SettlementService) loadBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if bookingID == "" {
		return nil, ErrInvalidBookingID
	}
	return s.ledger.Stores().Bookings.GetByID(ctx, bookingID)
}

// resolve settles pending gateway operations of a trip before a new
// operation runs. A capture confirmed this way changes the paid set, so the
// trip is reconciled under the same trigger a payment event would use.
// Errors are logged; the caller proceeds with what is known.
func (s *SettlementService) resolve(ctx context.Context, tripID string) int {
	unresolved, captured, err := s.mover.resolvePending(ctx, tripID)
	if err != nil {
		log.Printf("[SETTLEMENT] failed to resolve pending operations: trip=%s err=%v", tripID, err)
	}
	for _, bookingID := range captured {
		if _, err := s.reconciler.Reconcile(ctx, tripID, "paid:"+bookingID); err != nil {
			log.Printf("[SETTLEMENT] failed to reconcile resolved capture: trip=%s booking=%s err=%v", tripID, bookingID, err)
		}
	}
	return unresolved
}
