package webhook

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNotFound is returned when an endpoint does not exist or belongs to another tenant.
var ErrNotFound = errors.New("webhook not found")

// ErrExhausted marks a logical delivery whose retry budget is spent.
var ErrExhausted = errors.New("retry budget exhausted")

// ValidationError rejects malformed input before anything is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError is a shorthand constructor.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// AsValidation unwraps a *ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// DeliveryError describes a failed attempt: a non-2xx status, a timeout, or a
// transport error. It never leaves the delivery worker.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("receiver responded with status %d", e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Timeout reports whether the attempt ran out of time.
func (e *DeliveryError) Timeout() bool {
	if e.Err == nil {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}
