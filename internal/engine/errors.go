package engine

import "errors"

var (
	// ErrValidation covers malformed or missing order fields. Rejected
	// before any balance lock.
	ErrValidation = errors.New("invalid order")

	// ErrInsufficientFunds is returned when the required lock exceeds the
	// user's available balance. Rejected before any balance lock.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotCancellable is returned when the order is absent, not owned
	// by the requesting user, or already terminal.
	ErrNotCancellable = errors.New("order not cancellable")
)
