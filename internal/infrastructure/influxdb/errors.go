package influxdb

import "errors"

// Sentinel errors; match with errors.Is.
var (
	// ErrNotConnected: the client has been closed or never came up.
	ErrNotConnected = errors.New("influxdb: no connection")

	// ErrConnectionFailed: the Connect-time ping did not succeed.
	ErrConnectionFailed = errors.New("influxdb: ping failed")

	// ErrDisabled: Connect was called although the influxdb config
	// section is switched off.
	ErrDisabled = errors.New("influxdb: disabled by config")
)
