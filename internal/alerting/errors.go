package alerting

import "errors"

// Domain errors for the alerting package.
var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("alerting: rule not found")

	// ErrInvalidRule is returned when a rule fails validation.
	ErrInvalidRule = errors.New("alerting: invalid rule")

	// ErrUnknownServer is returned when a rule references a server profile
	// that does not exist.
	ErrUnknownServer = errors.New("alerting: unknown server")
)
