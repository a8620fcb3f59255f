// Package gateway defines the payment gateway contract used for captures,
// refunds and driver payouts, and the adapters that implement it.
package gateway

import (
	"context"
	"errors"
	"time"

	"carpool/internal/domain"
)

var (
	// ErrDeclined is returned when the provider rejects the operation.
	ErrDeclined = errors.New("gateway declined operation")

	// ErrNoDestination is returned when the payer or recipient has no usable
	// refund or payout destination.
	ErrNoDestination = errors.New("no valid destination for funds")

	// ErrTimeout is returned when no definitive answer arrived in time.
	// The operation may or may not have happened.
	ErrTimeout = errors.New("gateway timeout: outcome unknown")

	// ErrInvalidRequest is returned when a request fails local validation.
	ErrInvalidRequest = errors.New("invalid gateway request")
)

// Status is the provider-side state of an operation.
type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusPending   Status = "PENDING"
	StatusUnknown   Status = "UNKNOWN"
)

// CaptureRequest charges a passenger.
type CaptureRequest struct {
	Token     string // idempotency / correlation token
	BookingID string
	Amount    domain.Money
	Currency  string
	PayerRef  string
}

// RefundRequest returns money to the payer of an earlier capture.
type RefundRequest struct {
	Token     string
	BookingID string
	PaymentID string
	Amount    domain.Money
}

// PayoutRequest sends money to a recipient.
type PayoutRequest struct {
	Token     string
	TripID    string
	Recipient string
	Amount    domain.Money
	Currency  string
}

// OperationRef identifies an operation for a status query.
// ID is the gateway reference when known; Token is always set.
type OperationRef struct {
	Kind      domain.Operation
	Token     string
	ID        string
	PaymentID string    // parent charge for refunds
	Since     time.Time // when the attempt was made
}

// Result is the outcome reported by the provider.
type Result struct {
	Ref    string
	Status Status
	Reason string
}

// Gateway is the payment provider contract. Every operation carries a token
// supplied by the caller so that repeated calls are de-duplicated.
type Gateway interface {
	Capture(ctx context.Context, req CaptureRequest) (*Result, error)
	Refund(ctx context.Context, req RefundRequest) (*Result, error)
	Payout(ctx context.Context, req PayoutRequest) (*Result, error)
	QueryStatus(ctx context.Context, ref OperationRef) (*Result, error)
}

// PaymentEvent is a verified provider notification about a capture.
type PaymentEvent struct {
	EventID   string
	BookingID string
	PaymentID string
	Amount    domain.Money
	Succeeded bool
}

// EventVerifier re-fetches a webhook event from the provider so that only
// events the provider knows about are trusted.
type EventVerifier interface {
	VerifyPaymentEvent(ctx context.Context, eventID string) (*PaymentEvent, error)
}

// Outcome is the normalized result of a gateway call.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeSucceeded
	OutcomeUnknown
)

// Classify normalizes a gateway response. Timeouts, context expiry and
// pending or unknown statuses all mean the outcome is not yet known.
func Classify(res *Result, err error) Outcome {
	if err != nil {
		if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return OutcomeUnknown
		}
		return OutcomeFailed
	}
	if res == nil {
		return OutcomeUnknown
	}
	switch res.Status {
	case StatusSucceeded:
		return OutcomeSucceeded
	case StatusFailed:
		return OutcomeFailed
	default:
		return OutcomeUnknown
	}
}

// FailureReason describes why a call did not succeed.
func FailureReason(res *Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if res != nil && res.Reason != "" {
		return res.Reason
	}
	if res != nil {
		return "gateway status " + string(res.Status)
	}
	return "no response from gateway"
}

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeUnknown:
		return "unknown"
	default:
		return "failed"
	}
}
