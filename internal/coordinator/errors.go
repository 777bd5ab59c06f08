package coordinator

import "errors"

// Sentinel errors returned by the coordinator.
var (
	// ErrNoEntrySource is returned by New when no entry source is given.
	ErrNoEntrySource = errors.New("coordinator: entry source is required")

	// ErrNoClientFactory is returned by New when no client factory is given.
	ErrNoClientFactory = errors.New("coordinator: client factory is required")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("coordinator: already started")
)
