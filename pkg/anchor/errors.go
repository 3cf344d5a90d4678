package anchor

import (
	"errors"
	"fmt"
)

// ErrBroadcastExhausted is returned once every broadcast attempt has failed.
var ErrBroadcastExhausted = errors.New("All attempts to broadcast failed. Try rerunning issuer.")

// BroadcastError marks a transient chain submission failure. Only errors of
// this type are retried by the Broadcaster.
type BroadcastError struct {
	Chain string
	Err   error
}

// NewBroadcastError wraps err as retryable.
func NewBroadcastError(chain string, err error) *BroadcastError {
	return &BroadcastError{Chain: chain, Err: err}
}

func (e *BroadcastError) Error() string {
	if e.Chain == "" {
		return fmt.Sprintf("broadcast failed: %v", e.Err)
	}
	return fmt.Sprintf("broadcast to %s failed: %v", e.Chain, e.Err)
}

func (e *BroadcastError) Unwrap() error {
	return e.Err
}

// IsBroadcastError reports whether err carries a BroadcastError.
func IsBroadcastError(err error) bool {
	var be *BroadcastError
	return errors.As(err, &be)
}
