// Package errs defines the error taxonomy shared by the trading core.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError rejects bad config or order parameters before they reach the broker.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SignatureError marks an inbound event whose HMAC could not be verified.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return "signature: " + e.Reason
}

// BrokerError wraps a transport or HTTP failure from the broker adapter.
type BrokerError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *BrokerError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("broker %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	default:
		return "broker " + e.Op + ": failed"
	}
}

func (e *BrokerError) Unwrap() error { return e.Err }

// RiskDenied is the outcome of a risk check that refused an order.
// It is a decision, not a failure; callers log it and move on.
type RiskDenied struct {
	Check  string
	Reason string
}

func (e *RiskDenied) Error() string {
	return fmt.Sprintf("risk denied (%s): %s", e.Check, e.Reason)
}

// NotFoundError references an unknown order, run or strategy.
type NotFoundError struct {
	Kind string
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Ref)
}

// NotFound is shorthand for a NotFoundError.
func NotFound(kind, ref string) error {
	return &NotFoundError{Kind: kind, Ref: ref}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsSignature(err error) bool {
	var target *SignatureError
	return errors.As(err, &target)
}

func IsBroker(err error) bool {
	var target *BrokerError
	return errors.As(err, &target)
}

func IsRiskDenied(err error) bool {
	var target *RiskDenied
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// Wrap annotates err with text, returning nil when err is nil.
func Wrap(err error, text string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", text, err)
}
