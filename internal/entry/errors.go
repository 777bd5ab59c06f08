package entry

import "errors"

// Domain errors for the entry package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, entry.ErrEntryNotFound) {
//	    // handle not found case
//	}
var (
	// ErrEntryNotFound is returned when an entry ID does not exist.
	ErrEntryNotFound = errors.New("entry: not found")

	// ErrEntryExists is returned when creating an entry with an ID that already exists.
	ErrEntryExists = errors.New("entry: already exists")

	// ErrUniqueIDConflict is returned when another entry already carries the
	// same unique id (gateway serial).
	ErrUniqueIDConflict = errors.New("entry: unique id already configured")

	// ErrInvalidEntry is returned when entry validation fails.
	ErrInvalidEntry = errors.New("entry: invalid")

	// ErrInvalidHost is returned when a host is empty or malformed.
	ErrInvalidHost = errors.New("entry: invalid host")

	// ErrInvalidOptions is returned when an options value is out of range.
	ErrInvalidOptions = errors.New("entry: invalid options")
)
