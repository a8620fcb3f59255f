package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/omise/omise-go"

	"carpool/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestChargeResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status     string
		failure    *string
		wantStatus Status
		wantReason string
	}{
		{"successful", nil, StatusSucceeded, ""},
		{"failed", strPtr("insufficient funds"), StatusFailed, "insufficient funds"},
		{"expired", nil, StatusFailed, ""},
		{"reversed", nil, StatusFailed, ""},
		{"pending", nil, StatusPending, ""},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.status, func(t *testing.T) {
			t.Parallel()
			ch := &omise.Charge{Status: omise.ChargeStatus(tc.status), FailureMessage: tc.failure}
			ch.ID = "chrg_1"

			res := chargeResult(ch)
			if res.Ref != "chrg_1" || res.Status != tc.wantStatus || res.Reason != tc.wantReason {
				t.Errorf("chargeResult() = %+v, want status %s reason %q", res, tc.wantStatus, tc.wantReason)
			}
		})
	}
}

func TestTransferResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		transfer   omise.Transfer
		wantStatus Status
	}{
		{"sent", omise.Transfer{Sent: true}, StatusSucceeded},
		{"paid", omise.Transfer{Paid: true}, StatusSucceeded},
		{"failure code wins", omise.Transfer{Sent: true, FailureCode: strPtr("insufficient_balance")}, StatusFailed},
		{"empty failure code", omise.Transfer{FailureCode: strPtr("")}, StatusPending},
		{"queued", omise.Transfer{}, StatusPending},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr := tc.transfer
			tr.ID = "trsf_1"
			if res := transferResult(&tr); res.Ref != "trsf_1" || res.Status != tc.wantStatus {
				t.Errorf("transferResult() = %+v, want %s", res, tc.wantStatus)
			}
		})
	}
}

func TestMapOmiseError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"timeout kept", ErrTimeout, ErrTimeout},
		{"invalid recipient", &omise.Error{Code: "invalid_recipient", StatusCode: 400}, ErrNoDestination},
		{"unverified recipient", &omise.Error{Code: "recipient_not_verified", StatusCode: 400}, ErrNoDestination},
		{"failed capture", &omise.Error{Code: "failed_capture", StatusCode: 400}, ErrDeclined},
		{"insufficient fund", &omise.Error{Code: "insufficient_fund", StatusCode: 400}, ErrDeclined},
		{"other client error", &omise.Error{Code: "bad_request", StatusCode: 422}, ErrDeclined},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := mapOmiseError(tc.err); !errors.Is(got, tc.want) {
				t.Errorf("mapOmiseError() = %v, want %v", got, tc.want)
			}
		})
	}

	// Server errors and transport errors are neither declines nor missing destinations.
	for _, err := range []error{
		&omise.Error{Code: "internal_error", StatusCode: 500},
		errors.New("connection reset"),
	} {
		got := mapOmiseError(err)
		if errors.Is(got, ErrDeclined) || errors.Is(got, ErrNoDestination) {
			t.Errorf("mapOmiseError(%v) = %v, want a plain provider error", err, got)
		}
	}
}

func TestNewOmise_BoundsHTTPClient(t *testing.T) {
	t.Parallel()

	g, err := NewOmise("pkey_test_1", "skey_test_1", 3*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.client.Client.Timeout != 3*time.Second {
		t.Errorf("expected the HTTP client bounded to 3s, got %s", g.client.Client.Timeout)
	}

	g, err = NewOmise("pkey_test_1", "skey_test_1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.client.Client.Timeout != 15*time.Second {
		t.Errorf("expected the default bound, got %s", g.client.Client.Timeout)
	}
}

func TestOmise_PayoutWithoutRecipient(t *testing.T) {
	t.Parallel()
	g := &Omise{timeout: time.Second, now: time.Now}

	_, err := g.Payout(context.Background(), PayoutRequest{Token: "payout:trip-1:1", TripID: "trip-1", Amount: 1610})
	if !errors.Is(err, ErrNoDestination) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}
	if Classify(nil, err) != OutcomeFailed {
		t.Error("a missing recipient is a definitive failure")
	}
}

func TestOmise_QueryStatusWithoutEnoughToSearchIsUnknown(t *testing.T) {
	t.Parallel()
	g := &Omise{timeout: time.Second, now: time.Now}

	refs := []OperationRef{
		{Kind: domain.OperationRefund},
		{Kind: domain.OperationRefund, Token: "refund:b-1:paid:b-2"},
		{Kind: domain.OperationCapture, Token: "capture:b-1:1"},
		{Kind: domain.OperationPayout, Token: "payout:trip-1:1"},
	}
	for _, ref := range refs {
		res, err := g.QueryStatus(context.Background(), ref)
		if err != nil {
			t.Fatalf("%+v: unexpected error %v", ref, err)
		}
		if res.Status != StatusUnknown {
			t.Errorf("%+v: expected UNKNOWN, got %s", ref, res.Status)
		}
	}
}

func TestOmise_MissingOperationRespectsListingLag(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	g := &Omise{timeout: time.Second, now: func() time.Time { return now }}

	res, _ := g.missing(OperationRef{Since: now.Add(-30 * time.Second)}, "no charge with this token")
	if res.Status != StatusUnknown {
		t.Errorf("a fresh miss must stay unknown, got %s", res.Status)
	}

	res, _ = g.missing(OperationRef{Since: now.Add(-10 * time.Minute)}, "no charge with this token")
	if res.Status != StatusFailed {
		t.Errorf("an old miss is a failure, got %s", res.Status)
	}
}

type listedRefund struct {
	id    string
	token string
}

func refundPages(all []listedRefund, calls *int) func(offset, limit int) ([]listedRefund, int, error) {
	return func(offset, limit int) ([]listedRefund, int, error) {
		*calls++
		if offset >= len(all) {
			return nil, len(all), nil
		}
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}
		return all[offset:end], len(all), nil
	}
}

func refundMeta(r listedRefund) map[string]interface{} {
	return map[string]interface{}{correlationKey: r.token}
}

func TestFindByToken(t *testing.T) {
	t.Parallel()

	var listing []listedRefund
	for i := 0; i < 250; i++ {
		listing = append(listing, listedRefund{id: fmt.Sprintf("rfnd_%d", i), token: fmt.Sprintf("tok_%d", i)})
	}

	t.Run("found on a later page", func(t *testing.T) {
		t.Parallel()
		calls := 0
		got, found, err := findByToken(refundPages(listing, &calls), refundMeta, "tok_230")
		if err != nil || !found || got.id != "rfnd_230" {
			t.Fatalf("expected rfnd_230, got %+v found=%v err=%v", got, found, err)
		}
		if calls != 3 {
			t.Errorf("expected 3 pages read, got %d", calls)
		}
	})

	t.Run("absent after the whole listing", func(t *testing.T) {
		t.Parallel()
		calls := 0
		_, found, err := findByToken(refundPages(listing, &calls), refundMeta, "tok_missing")
		if err != nil || found {
			t.Fatalf("expected a definitive miss, got found=%v err=%v", found, err)
		}
		if calls != 3 {
			t.Errorf("expected every page read once, got %d", calls)
		}
	})

	t.Run("fetch error is returned", func(t *testing.T) {
		t.Parallel()
		_, found, err := findByToken(func(offset, limit int) ([]listedRefund, int, error) {
			return nil, 0, ErrTimeout
		}, refundMeta, "tok_1")
		if found || !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected the fetch error, got found=%v err=%v", found, err)
		}
	})

	t.Run("listing too long to prove absence", func(t *testing.T) {
		t.Parallel()
		_, found, err := findByToken(func(offset, limit int) ([]listedRefund, int, error) {
			page := make([]listedRefund, limit)
			return page, 1 << 30, nil
		}, refundMeta, "tok_1")
		if found || err == nil {
			t.Fatalf("expected an error instead of a miss, got found=%v err=%v", found, err)
		}
	})
}
