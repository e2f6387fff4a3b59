package exchange

import "errors"

var (
	// ErrUnknownUser is returned when an identity does not resolve to a user.
	ErrUnknownUser = errors.New("unknown user")
	// ErrCurrencyMismatch is returned for a currency outside the configured set
	// or an order whose volume and price share a currency.
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrInvalidOrder     = errors.New("invalid order")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidName      = errors.New("name cannot be empty")
	ErrOrderNotFound    = errors.New("order not found")
	// ErrAmountOutOfRange is returned when a balance or an order value would
	// not be a finite number.
	ErrAmountOutOfRange = errors.New("amount out of range")
)
