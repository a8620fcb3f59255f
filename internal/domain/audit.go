package domain

import "time"

// Operation is the kind of money movement recorded in the audit log.
type Operation string

const (
	OperationCapture Operation = "CAPTURE"
	OperationRefund  Operation = "REFUND"
	OperationPayout  Operation = "PAYOUT"
)

// Outcome is the result of a money movement.
type Outcome string

const (
	OutcomePending   Outcome = "PENDING"
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
)

// AuditEntry records one money-moving gateway operation.
// Entries are appended as PENDING and later finalized exactly once.
type AuditEntry struct {
	ID             string
	TripID         string
	BookingID      string // empty for payouts
	Operation      Operation
	Amount         Money
	IdempotencyKey string
	Trigger        string
	Outcome        Outcome
	GatewayRef     string
	ParentRef      string // charge id a refund was issued against
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
