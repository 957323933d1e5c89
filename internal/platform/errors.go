package platform

import "errors"

// Shared error kinds. Engines and command handlers classify failures with
// errors.Is against these sentinels; adapters wrap transport errors into them.
var (
	// ErrNotConfigured means the operation needs a channel/pool that has not
	// been set for the guild.
	ErrNotConfigured = errors.New("not configured")

	// ErrPermissionDenied is surfaced from the platform and never retried.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound means the referenced entity (message, member, channel) no
	// longer exists.
	ErrNotFound = errors.New("not found")

	// ErrPersistence means a durable-state read or write failed. Fatal to the
	// triggering operation; state stays at its last durable value.
	ErrPersistence = errors.New("persistence failure")

	// ErrNetworkTransient marks platform calls that failed transiently and
	// may be retried with bounded backoff.
	ErrNetworkTransient = errors.New("transient network failure")

	// ErrInvalidInput marks malformed user input that could not be coerced.
	ErrInvalidInput = errors.New("invalid input")
)
