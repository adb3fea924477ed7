package shared

import (
	"errors"
	"fmt"
)

// Core failure kinds. Every core operation fails with exactly one of these
// (wrapped with context via %w), never with an opaque error.
var (
	// ErrValidation indicates rejected input: unknown sub-account,
	// non-positive amount, missing tax configuration.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientFunds is returned by strict-policy withdrawals.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientLotQty indicates a lot consumption that would push
	// sold_qty above the purchased quantity.
	ErrInsufficientLotQty = errors.New("insufficient lot quantity")
	// ErrSameSubAccount rejects transfers where source equals destination.
	ErrSameSubAccount = errors.New("transfer requires distinct sub-accounts")
	// ErrConflict indicates a concurrent update collision. Retryable.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrAtomicityViolation indicates a posting whose ledger state and
	// invoice status diverged. Never triggered intentionally; seeing it
	// means a bug.
	ErrAtomicityViolation = errors.New("posting atomicity violation")
	// ErrNotFound indicates a missing resource.
	ErrNotFound = errors.New("not found")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// IsRetryable reports whether the caller should retry the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
