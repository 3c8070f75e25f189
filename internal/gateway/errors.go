package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var ErrMalformedResponse = errors.New("malformed gateway response")

// Error is returned for every failed exchange with the payment gateway.
type Error struct {
	Op         string
	StatusCode int
	Code       string
	Err        error
	timeout    bool
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("phonepe %s", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": http %d", e.StatusCode)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" (%s)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the outcome of the call is unknown because it timed out.
func (e *Error) Timeout() bool { return e.timeout }

// IsTimeout reports whether err means the gateway outcome is unknown.
func IsTimeout(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) && gwErr.Timeout() {
		return true
	}
	return isTimeout(err)
}

func transportError(op string, err error) *Error {
	return &Error{Op: op, Err: err, timeout: isTimeout(err)}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
