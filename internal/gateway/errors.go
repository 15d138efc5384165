package gateway

import "errors"

// Domain-specific errors for the gateway session.
// These errors can be checked using errors.Is() for proper error handling.
var (
	// ErrNotConnected is returned when an operation needs a live broker
	// connection and there is none.
	ErrNotConnected = errors.New("gateway: not connected to a broker")

	// ErrServerRequired is returned when Connect is called without a
	// server profile name.
	ErrServerRequired = errors.New("gateway: server name is required")

	// ErrAlreadySubscribed is returned when subscribing to a filter that is
	// already in the subscription set.
	ErrAlreadySubscribed = errors.New("gateway: already subscribed")

	// ErrNotSubscribed is returned when unsubscribing from a filter that is
	// not in the subscription set.
	ErrNotSubscribed = errors.New("gateway: not subscribed")

	// ErrReservedFilter is returned when a user subscription names one of
	// the device channel filters the session owns.
	ErrReservedFilter = errors.New("gateway: filter is reserved for device channels")
)
