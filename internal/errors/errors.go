// Package errors provides the error taxonomy separating client-visible
// rejections from infrastructure faults.
package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for client responses and metrics.
type Kind string

const (
	// KindValidation indicates invalid client input (visible rejection).
	KindValidation Kind = "validation"
	// KindThrottled indicates rate-limit admission rejection (soft notice).
	KindThrottled Kind = "throttled"
	// KindUnavailable indicates a transient infrastructure failure; never
	// shown to clients in raw form.
	KindUnavailable Kind = "unavailable"
	// KindInternal indicates an invariant violation; fatal to the
	// operation, not the process.
	KindInternal Kind = "internal"
)

// Error is a categorized error with optional structured context.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ClientVisible reports whether the message may be surfaced to clients.
func (e *Error) ClientVisible() bool {
	return e.Kind == KindValidation || e.Kind == KindThrottled
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Throttled(message string) *Error {
	return &Error{Kind: KindThrottled, Message: message}
}

func Unavailable(message string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, Cause: cause}
}

func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// WithContext adds a context field (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// KindOf extracts the Kind from any error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As converts any error into a categorized *Error, wrapping unknown
// errors as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("internal error", err)
}
