package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidTransition is returned when a write requires a booking state it is not in.
	ErrInvalidTransition = errors.New("booking not in required state")

	// ErrNegativeBalance is returned when a refund delta would drive amount_paid below zero.
	ErrNegativeBalance = errors.New("refund exceeds amount held")

	// ErrAlreadyReleased is returned when funds for a trip were already released.
	ErrAlreadyReleased = errors.New("funds already released")

	// ErrDuplicateKey is returned when an audit entry with the same idempotency key exists.
	ErrDuplicateKey = errors.New("duplicate idempotency key")

	// ErrAlreadyFinal is returned when finalizing an audit entry that is no longer pending.
	ErrAlreadyFinal = errors.New("audit entry already finalized")
)
