package ledger

import "errors"

var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrAccountContextMismatch = errors.New("account does not match trade context")
	ErrHoldingNotFound        = errors.New("holding not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrQuantityMismatch       = errors.New("quantity mismatch")
)

// IsStateError reports whether err is a ledger fault scoped to a single order,
// as opposed to a persistence failure.
func IsStateError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAccountContextMismatch) ||
		errors.Is(err, ErrHoldingNotFound) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrQuantityMismatch)
}
