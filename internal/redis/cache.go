package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore handles read-model caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// TripSummaryCacheTTL bounds staleness if an invalidation is lost.
const TripSummaryCacheTTL = 30 * time.Second

const tripSummaryPrefix = "cache:trip-summary:"

// CachedBooking is the cached view of one booking.
type CachedBooking struct {
	ID                 string `json:"id"`
	PassengerID        string `json:"passenger_id"`
	Status             string `json:"status"`
	AmountPaid         int64  `json:"amount_paid"`
	OriginalAmountPaid int64  `json:"original_amount_paid"`
	RefundTotal        int64  `json:"refund_total"`
	PassengerConfirmed bool   `json:"passenger_confirmed"`
}

// CachedTripSummary is the cached settlement view of a trip.
type CachedTripSummary struct {
	ID                 string          `json:"id"`
	State              string          `json:"state"`
	Currency           string          `json:"currency"`
	TotalPrice         int64           `json:"total_price"`
	SeatsAvailable     int             `json:"seats_available"`
	DriverConfirmed    bool            `json:"driver_confirmed"`
	FundsReleased      bool            `json:"funds_released"`
	DriverPayoutAmount int64           `json:"driver_payout_amount"`
	CommissionAmount   int64           `json:"commission_amount"`
	ReviewRequired     bool            `json:"review_required"`
	ReviewReason       string          `json:"review_reason,omitempty"`
	Bookings           []CachedBooking `json:"bookings"`
}

// GetTripSummary retrieves a trip summary from cache. Returns nil on a miss.
func (s *CacheStore) GetTripSummary(ctx context.Context, tripID string) (*CachedTripSummary, error) {
	data, err := s.client.Get(ctx, tripSummaryPrefix+tripID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var summary CachedTripSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// SetTripSummary stores a trip summary in cache.
func (s *CacheStore) SetTripSummary(ctx context.Context, summary *CachedTripSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, tripSummaryPrefix+summary.ID, data, TripSummaryCacheTTL).Err()
}

// InvalidateTrip removes a trip summary from cache.
func (s *CacheStore) InvalidateTrip(ctx context.Context, tripID string) error {
	return s.client.Del(ctx, tripSummaryPrefix+tripID).Err()
}
