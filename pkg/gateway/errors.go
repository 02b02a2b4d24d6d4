package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrQueryTimeout reports that a statement exceeded the configured deadline.
// It wraps context.DeadlineExceeded so callers can test for either.
var ErrQueryTimeout = errors.New("query timed out")

// TransactionError reports which operation aborted a transaction. The
// transaction is already rolled back by the time the caller sees it.
type TransactionError struct {
	Index int // zero-based position of the failing operation
	Err   error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction aborted at operation %d: %v", e.Index, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// mapTimeout converts a context deadline hit into ErrQueryTimeout. Other
// errors pass through unchanged.
func mapTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrQueryTimeout, err)
	}
	return err
}
