package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoAccountsAvailable is returned by the pool when no account is
// registered. It is fatal for the affected sub-task only.
var ErrNoAccountsAvailable = errors.New("no accounts available")

// ErrTokenNotFound is returned by Authenticator.LoadToken when no stored
// credential exists for the requested username.
var ErrTokenNotFound = errors.New("token not found")

// RateLimitedError signals an upstream 429. RetryAfter carries the
// server-provided cooldown when the response included one.
type RateLimitedError struct {
	RetryAfter *time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter != nil {
		return fmt.Sprintf("rate limited (retry after %s)", *e.RetryAfter)
	}
	return "rate limited"
}

// TransportError wraps any non-rate-limit fetch failure, including
// cancellation and deadline expiry, which are accounted the same way.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AsRateLimited extracts a RateLimitedError from err, if present.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rle *RateLimitedError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// IsRateLimited reports whether err carries a rate-limit signal.
func IsRateLimited(err error) bool {
	_, ok := AsRateLimited(err)
	return ok
}

// NewTransportError wraps err unless it already carries domain typing.
// Context cancellation and deadline expiry become TransportErrors so the
// accounting path treats them like any other recoverable fetch failure.
func NewTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsRateLimited(err) {
		return err
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// IsCancellation reports whether err stems from context cancellation or a
// deadline, possibly wrapped in a TransportError.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
