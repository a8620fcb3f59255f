package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"carpool/internal/domain"
)

// DeclinedPayerRef is a payer reference the sandbox always declines.
const DeclinedPayerRef = "tok_declined"

type sandboxOp struct {
	kind      domain.Operation
	ref       string
	amount    domain.Money
	paymentID string
}

// Sandbox is an in-memory gateway for local development.
// Operations are de-duplicated by token: replaying a token returns the first result.
type Sandbox struct {
	mu       sync.Mutex
	byToken  map[string]*sandboxOp
	byRef    map[string]*sandboxOp
	captured map[string]domain.Money // payment id -> amount still refundable
}

// NewSandbox creates an empty sandbox gateway.
func NewSandbox() *Sandbox {
	return &Sandbox{
		byToken:  make(map[string]*sandboxOp),
		byRef:    make(map[string]*sandboxOp),
		captured: make(map[string]domain.Money),
	}
}

func (g *Sandbox) replay(token string, kind domain.Operation) (*Result, bool) {
	op, ok := g.byToken[token]
	if !ok || op.kind != kind {
		return nil, false
	}
	return &Result{Ref: op.ref, Status: StatusSucceeded}, true
}

func (g *Sandbox) record(token string, op *sandboxOp) *Result {
	g.byToken[token] = op
	g.byRef[op.ref] = op
	return &Result{Ref: op.ref, Status: StatusSucceeded}
}

// Capture charges the payer.
func (g *Sandbox) Capture(ctx context.Context, req CaptureRequest) (*Result, error) {
	if req.Token == "" || req.Amount <= 0 || req.PayerRef == "" {
		return nil, ErrInvalidRequest
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.replay(req.Token, domain.OperationCapture); ok {
		return res, nil
	}
	if req.PayerRef == DeclinedPayerRef {
		return nil, fmt.Errorf("%w: card declined", ErrDeclined)
	}

	op := &sandboxOp{kind: domain.OperationCapture, ref: "chrg_" + uuid.NewString(), amount: req.Amount}
	g.captured[op.ref] = req.Amount
	return g.record(req.Token, op), nil
}

// Refund returns part or all of a capture.
func (g *Sandbox) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	if req.Token == "" || req.Amount <= 0 || req.PaymentID == "" {
		return nil, ErrInvalidRequest
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.replay(req.Token, domain.OperationRefund); ok {
		return res, nil
	}

	remaining, ok := g.captured[req.PaymentID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown charge %s", ErrDeclined, req.PaymentID)
	}
	if req.Amount > remaining {
		return nil, fmt.Errorf("%w: refund %s exceeds refundable %s", ErrDeclined, req.Amount, remaining)
	}
	g.captured[req.PaymentID] = remaining - req.Amount

	op := &sandboxOp{kind: domain.OperationRefund, ref: "rfnd_" + uuid.NewString(), amount: req.Amount, paymentID: req.PaymentID}
	return g.record(req.Token, op), nil
}

// Payout sends money to a recipient.
func (g *Sandbox) Payout(ctx context.Context, req PayoutRequest) (*Result, error) {
	if req.Recipient == "" {
		return nil, ErrNoDestination
	}
	if req.Token == "" || req.Amount <= 0 {
		return nil, ErrInvalidRequest
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.replay(req.Token, domain.OperationPayout); ok {
		return res, nil
	}

	op := &sandboxOp{kind: domain.OperationPayout, ref: "trsf_" + uuid.NewString(), amount: req.Amount}
	return g.record(req.Token, op), nil
}

// QueryStatus resolves an operation by reference or, failing that, by token.
// An operation the sandbox never saw is reported as failed.
func (g *Sandbox) QueryStatus(ctx context.Context, ref OperationRef) (*Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	op, ok := g.byRef[ref.ID]
	if !ok {
		op, ok = g.byToken[ref.Token]
	}
	if !ok || op.kind != ref.Kind {
		return &Result{Status: StatusFailed, Reason: "operation not found"}, nil
	}

	return &Result{Ref: op.ref, Status: StatusSucceeded}, nil
}

// Refundable returns how much of a capture can still be refunded.
func (g *Sandbox) Refundable(paymentID string) domain.Money {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captured[paymentID]
}
