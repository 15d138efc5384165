package redisstate

import "errors"

var (
	// ErrDisabled indicates the Redis mirror is disabled in configuration.
	ErrDisabled = errors.New("redisstate: disabled in configuration")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("redisstate: connection failed")
)
