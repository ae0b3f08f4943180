package domain

import "errors"

var (
	// ErrUnauthenticated indicates no credential accompanied the request.
	ErrUnauthenticated = errors.New("credential required")
	// ErrInvalidCredential indicates the credential matched no tenant.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrInvalidEvent indicates a missing required event field or a malformed batch.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrInvalidQuery indicates query parameters that cannot be evaluated.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrStoreUnavailable indicates the durable event store failed; nothing was committed.
	ErrStoreUnavailable = errors.New("event store unavailable")
	// ErrIndexUnavailable indicates the aggregation index failed to mirror or answer a query.
	ErrIndexUnavailable = errors.New("aggregation index unavailable")
	// ErrDeliveryFailure indicates a single stream subscriber could not receive a message.
	ErrDeliveryFailure = errors.New("stream delivery failed")
)
