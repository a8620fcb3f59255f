// Package pricing splits a trip's total price across its paying passengers
// and divides released funds between driver and platform.
package pricing

import (
	"errors"

	"carpool/internal/domain"
)

// Increment is the smallest chargeable amount (0.05).
const Increment domain.Money = 5

var (
	// ErrNonPositiveTotal is returned when the total amount is zero or negative.
	ErrNonPositiveTotal = errors.New("total must be positive")

	// ErrNonPositiveCount is returned when the passenger count is below one.
	ErrNonPositiveCount = errors.New("passenger count must be at least 1")

	// ErrInvalidCommissionRate is returned when the rate is outside 0..10000 basis points.
	ErrInvalidCommissionRate = errors.New("commission rate must be between 0 and 10000 basis points")
)

// Config contains split and commission settings.
type Config struct {
	Increment          domain.Money // rounding step for every price
	CommissionBPS      int          // platform share in basis points (1000 = 10%)
	MinRefundThreshold domain.Money // deltas at or below this are not refunded
}

// DefaultConfig returns the default pricing configuration.
func DefaultConfig() Config {
	return Config{
		Increment:          Increment,
		CommissionBPS:      1000,
		MinRefundThreshold: 5,
	}
}

// Calculator applies a Config. The zero value uses DefaultConfig.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a Calculator, falling back to defaults for unset fields.
func NewCalculator(cfg Config) *Calculator {
	def := DefaultConfig()
	if cfg.Increment <= 0 {
		cfg.Increment = def.Increment
	}
	if cfg.MinRefundThreshold < 0 {
		cfg.MinRefundThreshold = def.MinRefundThreshold
	}
	return &Calculator{cfg: cfg}
}

// Config returns the active configuration.
func (c *Calculator) Config() Config {
	return c.cfg
}

// PerPassengerPrice divides total by the paid passenger count, rounding up to the increment.
func (c *Calculator) PerPassengerPrice(total domain.Money, paidCount int) (domain.Money, error) {
	return perPassengerPrice(total, paidCount, c.cfg.Increment)
}

// RevenueShare splits total into driver and commission amounts.
func (c *Calculator) RevenueShare(total domain.Money) (driver, commission domain.Money, err error) {
	return revenueShare(total, c.cfg.CommissionBPS, c.cfg.Increment)
}

// OnIncrement reports whether amount is a whole number of increments.
func (c *Calculator) OnIncrement(amount domain.Money) bool {
	return amount%c.cfg.Increment == 0
}

// RefundDue returns the amount to refund to a booking holding paid when the fair price is price.
// It is zero unless the difference exceeds the minimum refund threshold.
func (c *Calculator) RefundDue(paid, price domain.Money) domain.Money {
	delta := paid - price
	if delta <= c.cfg.MinRefundThreshold {
		return 0
	}
	return delta
}

// PerPassengerPrice divides total by paidCount and rounds up to the 0.05 increment.
// 17.85 split two ways is 8.95.
func PerPassengerPrice(total domain.Money, paidCount int) (domain.Money, error) {
	return perPassengerPrice(total, paidCount, Increment)
}

// RevenueShare splits total using a commission rate in basis points.
// Commission is rounded half-up to the increment; the driver receives the rest,
// so driver + commission always equals total.
func RevenueShare(total domain.Money, commissionBPS int) (driver, commission domain.Money, err error) {
	return revenueShare(total, commissionBPS, Increment)
}

func perPassengerPrice(total domain.Money, paidCount int, step domain.Money) (domain.Money, error) {
	if total <= 0 {
		return 0, ErrNonPositiveTotal
	}
	if paidCount < 1 {
		return 0, ErrNonPositiveCount
	}

	// Smallest multiple of step that is >= total/paidCount.
	divisor := int64(step) * int64(paidCount)
	units := (int64(total) + divisor - 1) / divisor
	return domain.Money(units * int64(step)), nil
}

func revenueShare(total domain.Money, commissionBPS int, step domain.Money) (domain.Money, domain.Money, error) {
	if total <= 0 {
		return 0, 0, ErrNonPositiveTotal
	}
	if commissionBPS < 0 || commissionBPS > 10000 {
		return 0, 0, ErrInvalidCommissionRate
	}

	// exact commission in 1/10000 minor units, rounded half-up to the step
	exact := int64(total) * int64(commissionBPS)
	unit := int64(step) * 10000
	commission := domain.Money((exact + unit/2) / unit * int64(step))
	if commission > total {
		commission = total
	}

	return total - commission, commission, nil
}
