// Package errs defines the error taxonomy kinds used across the control
// plane: InputError, PolicyBlock, TransientBrokerError, HardBrokerError,
// StateConflict, ConfigError. Callers classify with errors.As against
// *Error and branch on Kind; wrapping with fmt.Errorf("...: %w", err)
// preserves the kind through multiple layers.
package errs

import "fmt"

// Kind is one of the taxonomy categories from the error handling design.
type Kind string

const (
	KindInput            Kind = "InputError"
	KindPolicyBlock      Kind = "PolicyBlock"
	KindTransientBroker  Kind = "TransientBrokerError"
	KindHardBroker       Kind = "HardBrokerError"
	KindStateConflict    Kind = "StateConflict"
	KindConfig           Kind = "ConfigError"
)

// Error is the concrete error type carrying a taxonomy Kind plus a
// machine-readable Reason (e.g. "BlockedHighSpread", "BlockedSymbolHourly")
// and arbitrary Detail for operator-facing messages.
type Error struct {
	Kind   Kind
	Reason string
	Detail string
	Err    error // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, reason, detail string) *Error {
	return &Error{Kind: kind, Reason: reason, Detail: detail}
}

func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Retryable reports whether the error's kind should be retried by the
// executor's backoff loop.
func Retryable(err error) bool {
	var e *Error
	if As(err, &e) {
		return e.Kind == KindTransientBroker
	}
	return false
}

// As is a thin re-export of errors.As specialized for *Error, kept here
// so call sites only need to import this package.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
