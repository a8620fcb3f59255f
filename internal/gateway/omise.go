package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"

	"carpool/internal/domain"
)

const (
	correlationKey = "correlation_token"

	// lookupPageSize and maxLookupPages bound a search by correlation token.
	lookupPageSize = 100
	maxLookupPages = 20

	// lookupGrace is how long a fresh operation may be missing from listings
	// before its absence counts as proof that it never happened.
	lookupGrace = 2 * time.Minute
)

// Omise implements Gateway on top of the Omise API.
type Omise struct {
	client  *omise.Client
	timeout time.Duration
	now     func() time.Time
}

// NewOmise creates an Omise adapter. Every call is bounded by timeout, both
// by the adapter and by the HTTP client underneath it.
func NewOmise(publicKey, secretKey string, timeout time.Duration) (*Omise, error) {
	client, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create omise client: %w", err)
	}
	client.SetDebug(false)

	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.Client.Timeout = timeout

	return &Omise{client: client, timeout: timeout, now: time.Now}, nil
}

// do runs a blocking Omise call and gives up when the deadline passes.
// A call abandoned this way has an unknown outcome.
func (g *Omise) do(ctx context.Context, call func() error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- call()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ErrTimeout
	}
}

func metadata(token, key, id string) map[string]interface{} {
	return map[string]interface{}{
		correlationKey: token,
		key:            id,
	}
}

// Capture creates a charge against a card token or a saved customer.
func (g *Omise) Capture(ctx context.Context, req CaptureRequest) (*Result, error) {
	if req.Amount <= 0 || req.PayerRef == "" {
		return nil, ErrInvalidRequest
	}

	op := &operations.CreateCharge{
		Amount:      int64(req.Amount),
		Currency:    strings.ToLower(req.Currency),
		Description: "carpool booking " + req.BookingID,
		Metadata:    metadata(req.Token, "booking_id", req.BookingID),
	}
	if strings.HasPrefix(req.PayerRef, "cust_") {
		op.Customer = req.PayerRef
	} else {
		op.Card = req.PayerRef
	}

	ch := &omise.Charge{}
	if err := g.do(ctx, func() error { return g.client.Do(ch, op) }); err != nil {
		return nil, mapOmiseError(err)
	}

	return chargeResult(ch), nil
}

// Refund creates a partial or full refund on the original charge.
func (g *Omise) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	if req.Amount <= 0 || req.PaymentID == "" {
		return nil, ErrInvalidRequest
	}

	rf := &omise.Refund{}
	op := &operations.CreateRefund{
		ChargeID: req.PaymentID,
		Amount:   int64(req.Amount),
		Metadata: metadata(req.Token, "booking_id", req.BookingID),
	}
	err := g.do(ctx, func() error { return g.client.Do(rf, op) })
	if err != nil {
		return nil, mapOmiseError(err)
	}

	return &Result{Ref: rf.ID, Status: StatusSucceeded}, nil
}

// Payout transfers money to a driver's recipient account.
func (g *Omise) Payout(ctx context.Context, req PayoutRequest) (*Result, error) {
	if req.Recipient == "" {
		return nil, ErrNoDestination
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidRequest
	}

	tr := &omise.Transfer{}
	op := &operations.CreateTransfer{
		Amount:    int64(req.Amount),
		Recipient: req.Recipient,
		Metadata:  metadata(req.Token, "trip_id", req.TripID),
	}
	err := g.do(ctx, func() error { return g.client.Do(tr, op) })
	if err != nil {
		return nil, mapOmiseError(err)
	}

	return transferResult(tr), nil
}

// QueryStatus reports what Omise knows about an operation. With a recorded
// gateway reference the object is retrieved directly. Without one (the call
// timed out before answering) the operation is searched for by the
// correlation token written into its metadata. Only a complete listing that
// lacks the token reports StatusFailed; any error leaves the status unknown.
func (g *Omise) QueryStatus(ctx context.Context, ref OperationRef) (*Result, error) {
	var res *Result
	var err error
	if ref.ID != "" {
		res, err = g.retrieve(ctx, ref)
	} else {
		res, err = g.lookup(ctx, ref)
	}
	if errors.Is(err, ErrInvalidRequest) {
		return nil, err
	}
	if err != nil {
		return &Result{Status: StatusUnknown, Reason: err.Error()}, nil
	}
	return res, nil
}

func (g *Omise) retrieve(ctx context.Context, ref OperationRef) (*Result, error) {
	switch ref.Kind {
	case domain.OperationCapture:
		ch := &omise.Charge{}
		op := &operations.RetrieveCharge{ChargeID: ref.ID}
		if err := g.do(ctx, func() error { return g.client.Do(ch, op) }); err != nil {
			return nil, mapOmiseError(err)
		}
		return chargeResult(ch), nil

	case domain.OperationRefund:
		rf := &omise.Refund{}
		op := &operations.RetrieveRefund{ChargeID: ref.PaymentID, RefundID: ref.ID}
		if err := g.do(ctx, func() error { return g.client.Do(rf, op) }); err != nil {
			return nil, mapOmiseError(err)
		}
		return &Result{Ref: rf.ID, Status: StatusSucceeded}, nil

	case domain.OperationPayout:
		tr := &omise.Transfer{}
		op := &operations.RetrieveTransfer{TransferID: ref.ID}
		if err := g.do(ctx, func() error { return g.client.Do(tr, op) }); err != nil {
			return nil, mapOmiseError(err)
		}
		return transferResult(tr), nil
	}

	return nil, fmt.Errorf("%w: unknown operation kind %q", ErrInvalidRequest, ref.Kind)
}

func (g *Omise) lookup(ctx context.Context, ref OperationRef) (*Result, error) {
	if ref.Token == "" {
		return nil, errors.New("no gateway reference or correlation token recorded")
	}

	switch ref.Kind {
	case domain.OperationRefund:
		if ref.PaymentID == "" {
			return nil, errors.New("refund has no parent charge")
		}
		rf, found, err := findByToken(func(offset, limit int) ([]*omise.Refund, int, error) {
			list := &omise.RefundList{}
			op := &operations.ListRefunds{
				ChargeID: ref.PaymentID,
				List:     operations.List{Offset: offset, Limit: limit},
			}
			if err := g.do(ctx, func() error { return g.client.Do(list, op) }); err != nil {
				return nil, 0, mapOmiseError(err)
			}
			return list.Data, list.Total, nil
		}, func(rf *omise.Refund) map[string]interface{} { return rf.Metadata }, ref.Token)
		if err != nil {
			return nil, err
		}
		if found {
			return &Result{Ref: rf.ID, Status: StatusSucceeded}, nil
		}
		// The refunds of one charge are listed completely.
		return &Result{Status: StatusFailed, Reason: "no refund with this token on the charge"}, nil

	case domain.OperationCapture:
		if ref.Since.IsZero() {
			return nil, errors.New("capture lookup needs the attempt time")
		}
		ch, found, err := findByToken(func(offset, limit int) ([]*omise.Charge, int, error) {
			list := &omise.ChargeList{}
			op := &operations.ListCharges{
				List: operations.List{Offset: offset, Limit: limit, From: ref.Since.Add(-time.Minute)},
			}
			if err := g.do(ctx, func() error { return g.client.Do(list, op) }); err != nil {
				return nil, 0, mapOmiseError(err)
			}
			return list.Data, list.Total, nil
		}, func(ch *omise.Charge) map[string]interface{} { return ch.Metadata }, ref.Token)
		if err != nil {
			return nil, err
		}
		if found {
			return chargeResult(ch), nil
		}
		return g.missing(ref, "no charge with this token")

	case domain.OperationPayout:
		if ref.Since.IsZero() {
			return nil, errors.New("payout lookup needs the attempt time")
		}
		tr, found, err := findByToken(func(offset, limit int) ([]*omise.Transfer, int, error) {
			list := &omise.TransferList{}
			op := &operations.ListTransfers{
				List: operations.List{Offset: offset, Limit: limit, From: ref.Since.Add(-time.Minute)},
			}
			if err := g.do(ctx, func() error { return g.client.Do(list, op) }); err != nil {
				return nil, 0, mapOmiseError(err)
			}
			return list.Data, list.Total, nil
		}, func(tr *omise.Transfer) map[string]interface{} { return tr.Metadata }, ref.Token)
		if err != nil {
			return nil, err
		}
		if found {
			return transferResult(tr), nil
		}
		return g.missing(ref, "no transfer with this token")
	}

	return nil, fmt.Errorf("%w: unknown operation kind %q", ErrInvalidRequest, ref.Kind)
}

// missing reports an operation absent from a listing. Listings may lag
// behind a call made moments ago, so a fresh miss stays unknown.
func (g *Omise) missing(ref OperationRef, reason string) (*Result, error) {
	if g.now().Sub(ref.Since) < lookupGrace {
		return &Result{Status: StatusUnknown, Reason: reason + " yet"}, nil
	}
	return &Result{Status: StatusFailed, Reason: reason}, nil
}

// findByToken pages through a listing until an item carries token in its
// metadata. found is false only after the whole listing was read.
func findByToken[T any](fetch func(offset, limit int) ([]T, int, error), meta func(T) map[string]interface{}, token string) (T, bool, error) {
	var zero T
	offset := 0
	for page := 0; page < maxLookupPages; page++ {
		items, total, err := fetch(offset, lookupPageSize)
		if err != nil {
			return zero, false, err
		}
		for _, it := range items {
			if t, _ := meta(it)[correlationKey].(string); t == token {
				return it, true, nil
			}
		}
		offset += len(items)
		if len(items) == 0 || offset >= total {
			return zero, false, nil
		}
	}
	return zero, false, fmt.Errorf("token not found in the first %d operations", maxLookupPages*lookupPageSize)
}

// VerifyPaymentEvent retrieves a webhook event from Omise and extracts the charge.
func (g *Omise) VerifyPaymentEvent(ctx context.Context, eventID string) (*PaymentEvent, error) {
	ev := &omise.Event{}
	op := &operations.RetrieveEvent{EventID: eventID}
	if err := g.do(ctx, func() error { return g.client.Do(ev, op) }); err != nil {
		return nil, mapOmiseError(err)
	}

	if ev.Key != "charge.complete" {
		return nil, fmt.Errorf("%w: unsupported event %q", ErrInvalidRequest, ev.Key)
	}

	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	var ch omise.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, err
	}

	bookingID, _ := ch.Metadata["booking_id"].(string)

	return &PaymentEvent{
		EventID:   eventID,
		BookingID: bookingID,
		PaymentID: ch.ID,
		Amount:    domain.Money(ch.Amount),
		Succeeded: ch.Status == "successful",
	}, nil
}

func chargeResult(ch *omise.Charge) *Result {
	res := &Result{Ref: ch.ID}
	switch ch.Status {
	case "successful":
		res.Status = StatusSucceeded
	case "failed", "expired", "reversed":
		res.Status = StatusFailed
		if ch.FailureMessage != nil {
			res.Reason = *ch.FailureMessage
		}
	default:
		res.Status = StatusPending
	}
	return res
}

func transferResult(tr *omise.Transfer) *Result {
	res := &Result{Ref: tr.ID}
	switch {
	case tr.FailureCode != nil && *tr.FailureCode != "":
		res.Status = StatusFailed
		res.Reason = *tr.FailureCode
	case tr.Sent || tr.Paid:
		res.Status = StatusSucceeded
	default:
		res.Status = StatusPending
	}
	return res
}

// mapOmiseError turns provider errors into gateway sentinels.
func mapOmiseError(err error) error {
	if errors.Is(err, ErrTimeout) {
		return err
	}

	var oe *omise.Error
	if errors.As(err, &oe) {
		switch oe.Code {
		case "invalid_recipient", "recipient_not_verified", "invalid_bank_account":
			return fmt.Errorf("%w: %s", ErrNoDestination, oe.Message)
		case "failed_capture", "failed_refund", "failed_transfer", "invalid_charge", "insufficient_fund":
			return fmt.Errorf("%w: %s", ErrDeclined, oe.Message)
		}
		if oe.StatusCode >= 400 && oe.StatusCode < 500 {
			return fmt.Errorf("%w: %s", ErrDeclined, oe.Message)
		}
	}

	return fmt.Errorf("omise: %w", err)
}
