package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  *Result
		err  error
		want Outcome
	}{
		{"success", &Result{Ref: "r", Status: StatusSucceeded}, nil, OutcomeSucceeded},
		{"provider failure status", &Result{Status: StatusFailed}, nil, OutcomeFailed},
		{"pending", &Result{Status: StatusPending}, nil, OutcomeUnknown},
		{"unknown status", &Result{Status: StatusUnknown}, nil, OutcomeUnknown},
		{"timeout", nil, ErrTimeout, OutcomeUnknown},
		{"wrapped deadline", nil, fmt.Errorf("call: %w", context.DeadlineExceeded), OutcomeUnknown},
		{"declined", nil, fmt.Errorf("%w: card", ErrDeclined), OutcomeFailed},
		{"no destination", nil, ErrNoDestination, OutcomeFailed},
		{"nil result", nil, nil, OutcomeUnknown},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tc.res, tc.err); got != tc.want {
				t.Errorf("Classify() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSandbox_CaptureRefundIdempotentByToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewSandbox()

	capture, err := g.Capture(ctx, CaptureRequest{Token: "capture:b1", BookingID: "b1", Amount: 1785, Currency: "CHF", PayerRef: "tok_visa"})
	if err != nil {
		t.Fatalf("unexpected capture error: %v", err)
	}

	again, err := g.Capture(ctx, CaptureRequest{Token: "capture:b1", BookingID: "b1", Amount: 1785, Currency: "CHF", PayerRef: "tok_visa"})
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if again.Ref != capture.Ref {
		t.Errorf("replayed capture returned new ref %s, want %s", again.Ref, capture.Ref)
	}

	req := RefundRequest{Token: "refund:b1:paid:b2", BookingID: "b1", PaymentID: capture.Ref, Amount: 890}
	first, err := g.Refund(ctx, req)
	if err != nil {
		t.Fatalf("unexpected refund error: %v", err)
	}
	second, err := g.Refund(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error on refund replay: %v", err)
	}
	if first.Ref != second.Ref {
		t.Error("refund replay should return the original refund")
	}
	if got := g.Refundable(capture.Ref); got != 895 {
		t.Errorf("refundable = %s, want 8.95 (refund applied once)", got)
	}
}

func TestSandbox_RefundCannotExceedCapture(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewSandbox()

	capture, _ := g.Capture(ctx, CaptureRequest{Token: "c", Amount: 500, PayerRef: "tok"})
	_, err := g.Refund(ctx, RefundRequest{Token: "r", PaymentID: capture.Ref, Amount: 505})
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
}

func TestSandbox_Failures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewSandbox()

	if _, err := g.Capture(ctx, CaptureRequest{Token: "c", Amount: 500, PayerRef: DeclinedPayerRef}); !errors.Is(err, ErrDeclined) {
		t.Errorf("expected ErrDeclined, got %v", err)
	}
	if _, err := g.Payout(ctx, PayoutRequest{Token: "p", Amount: 500}); !errors.Is(err, ErrNoDestination) {
		t.Errorf("expected ErrNoDestination, got %v", err)
	}
	if _, err := g.Refund(ctx, RefundRequest{Token: "r", Amount: 0, PaymentID: "x"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestSandbox_QueryStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewSandbox()

	payout, err := g.Payout(ctx, PayoutRequest{Token: "payout:t1:1", TripID: "t1", Recipient: "recp_1", Amount: 2445})
	if err != nil {
		t.Fatalf("unexpected payout error: %v", err)
	}

	byToken, _ := g.QueryStatus(ctx, OperationRef{Kind: "PAYOUT", Token: "payout:t1:1"})
	if byToken.Status != StatusSucceeded || byToken.Ref != payout.Ref {
		t.Errorf("query by token = %+v, want succeeded %s", byToken, payout.Ref)
	}

	missing, _ := g.QueryStatus(ctx, OperationRef{Kind: "PAYOUT", Token: "payout:t1:2"})
	if missing.Status != StatusFailed {
		t.Errorf("unseen operation status = %s, want FAILED", missing.Status)
	}
}
