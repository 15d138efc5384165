package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrTaskNotFound) {
//	    // handle not found case
//	}
var (
	// ErrTaskNotFound is returned when a task ID does not exist.
	ErrTaskNotFound = errors.New("automation: task not found")

	// ErrTriggerNotFound is returned when a message trigger ID does not exist.
	ErrTriggerNotFound = errors.New("automation: trigger not found")

	// ErrTriggerExists is returned when a trigger name is already used on the server.
	ErrTriggerExists = errors.New("automation: trigger already exists")

	// ErrInvalidTask is returned when task validation fails.
	ErrInvalidTask = errors.New("automation: invalid task")

	// ErrInvalidTrigger is returned when trigger validation fails.
	ErrInvalidTrigger = errors.New("automation: invalid trigger")

	// ErrInvalidSchedule is returned when a schedule descriptor cannot be built.
	ErrInvalidSchedule = errors.New("automation: invalid schedule")

	// ErrInvalidName is returned when a name is empty or too long.
	ErrInvalidName = errors.New("automation: invalid name")

	// ErrUnknownServer is returned when a task or trigger references a
	// server profile that does not exist.
	ErrUnknownServer = errors.New("automation: unknown server")

	// ErrNotConnected is returned when an action needs the broker and the
	// session is disconnected.
	ErrNotConnected = errors.New("automation: broker not connected")
)
