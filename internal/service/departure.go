package service

import (
	"context"
	"log"
	"time"

	"carpool/internal/domain"
	"carpool/internal/repository"
)

const sweepBatchSize = 100

// AdvanceDeparted moves departed trips with at least one payment from
// AWAITING_PAYMENTS to AWAITING_COMPLETION. It returns how many moved.
func (s *SettlementService) AdvanceDeparted(ctx context.Context) (int, error) {
	trips, err := s.ledger.Stores().Trips.ListDepartedAwaitingPayments(ctx, s.clock(), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	advanced := 0
	for _, t := range trips {
		moved := false
		err := s.withTripLock(ctx, t.ID, "AdvanceDeparted", func(ctx context.Context) error {
			s.resolve(ctx, t.ID)
			return s.ledger.WithinTx(ctx, func(st repository.Stores) error {
				moved = false
				trip, err := st.Trips.GetForUpdate(ctx, t.ID)
				if err != nil {
					return err
				}
				if trip.State != domain.SettlementAwaitingPayments {
					return nil
				}
				ok, err := s.canAdvance(ctx, st, trip)
				if err != nil || !ok {
					return err
				}
				trip.TransitionTo(domain.SettlementAwaitingCompletion)
				trip.UpdatedAt = s.clock()
				moved = true
				return st.Trips.Update(ctx, trip)
			})
		})
		if err != nil {
			log.Printf("[SWEEPER] failed to advance trip: trip=%s err=%v", t.ID, err)
			continue
		}
		if moved {
			advanced++
			log.Printf("[SWEEPER] trip departed: trip=%s", t.ID)
		}
	}

	return advanced, nil
}

// DepartureSweeper periodically advances departed trips.
type DepartureSweeper struct {
	settlement *SettlementService
	interval   time.Duration
}

// NewDepartureSweeper creates a new DepartureSweeper.
func NewDepartureSweeper(settlement *SettlementService, interval time.Duration) *DepartureSweeper {
	return &DepartureSweeper{settlement: settlement, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (d *DepartureSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.settlement.AdvanceDeparted(ctx)
			if err != nil {
				log.Printf("[SWEEPER] sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[SWEEPER] advanced %d trips", n)
			}
		}
	}
}
