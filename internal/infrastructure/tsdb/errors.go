package tsdb

import "errors"

var (
	// ErrNotConnected is returned by QueryRange before Connect has
	// succeeded or after Close.
	ErrNotConnected = errors.New("tsdb: no connection")

	// ErrConnectionFailed wraps a failed health probe during Connect.
	ErrConnectionFailed = errors.New("tsdb: health probe failed")

	// ErrWriteFailed wraps flush errors handed to the SetOnError hook.
	// It never reaches the writers themselves, which are fire-and-forget.
	ErrWriteFailed = errors.New("tsdb: flush failed")

	// ErrDisabled is returned when Connect is called although the tsdb
	// config section is switched off.
	ErrDisabled = errors.New("tsdb: disabled by config")
)
