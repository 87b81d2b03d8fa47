package parkour

import "errors"

var (
	// ErrInvalidParameters is returned when the generator or configuration is
	// given values it cannot work with. It is fatal to the call only.
	ErrInvalidParameters = errors.New("parkour: invalid parameters")

	// ErrAlreadyActive is returned when a session is created for a player that
	// already has one.
	ErrAlreadyActive = errors.New("parkour: session already active")

	// ErrNotFound is returned when no session exists for a player.
	ErrNotFound = errors.New("parkour: session not found")

	// ErrWorldUnavailable is returned when the host integration rejected or
	// timed out a world operation, after the retry has been spent.
	ErrWorldUnavailable = errors.New("parkour: world unavailable")
)
