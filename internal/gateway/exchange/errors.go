package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// The engine's exchange error taxonomy. Adapters wrap venue failures in one
// of these two classes; everything else is treated as transient.

// TransientError marks a failure worth retrying: timeouts, connection resets,
// rate limiting, 5xx responses.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient exchange error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError marks a definitive venue rejection: invalid quantity,
// insufficient balance, unknown symbol. Never retried.
type TerminalError struct {
	Op   string
	Code int
	Err  error
}

func (e *TerminalError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("terminal exchange error during %s (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("terminal exchange error during %s: %v", e.Op, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

func Terminal(op string, code int, err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Op: op, Code: code, Err: err}
}

// ErrOrderNotFound is returned by GetOrderStatus when the venue has no order
// for the given id. The executor uses it to distinguish "never landed" from
// "landed but not yet final" after a submission timeout.
var ErrOrderNotFound = errors.New("order not found")

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var tr *TransientError
	if errors.As(err, &tr) {
		return true
	}
	var term *TerminalError
	if errors.As(err, &term) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// IsTerminal reports whether err is a definitive venue rejection.
func IsTerminal(err error) bool {
	var term *TerminalError
	return errors.As(err, &term)
}
