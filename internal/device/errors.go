package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a composite key is not known.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrAlreadyWhitelisted is returned when adding an allow-list entry
	// that already exists.
	ErrAlreadyWhitelisted = errors.New("device: already whitelisted")

	// ErrNotWhitelisted is returned when removing an allow-list entry that
	// does not exist.
	ErrNotWhitelisted = errors.New("device: not whitelisted")

	// ErrUnknownServer is returned when a record references a server
	// profile that does not exist.
	ErrUnknownServer = errors.New("device: unknown server")

	// ErrInvalidCommand is returned for commands the firmware does not accept.
	ErrInvalidCommand = errors.New("device: invalid command")

	// ErrInvalidAlias is returned when an alias is too long.
	ErrInvalidAlias = errors.New("device: invalid alias")

	// ErrNotConnected is returned when a command needs the broker and the
	// session is disconnected.
	ErrNotConnected = errors.New("device: broker not connected")
)
