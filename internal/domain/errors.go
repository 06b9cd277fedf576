package domain

import "errors"

var (
	// ErrStoreUnavailable marks transient presence store connectivity
	// failures. The connection stays alive; the operation is retried on
	// the next client action or background tick.
	ErrStoreUnavailable = errors.New("presence store unavailable")

	// ErrBusUnavailable marks publish failures after retry exhaustion.
	ErrBusUnavailable = errors.New("message bus unavailable")
)
