package envoy

import "errors"

// Domain errors for the envoy package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, envoy.ErrAuthentication) {
//	    // credentials rejected by the Enlighten cloud
//	}
var (
	// ErrConnection is returned when the gateway cannot be reached or
	// answers with a transport-level failure.
	ErrConnection = errors.New("envoy: connection failed")

	// ErrAuthentication is returned when the Enlighten cloud rejects the
	// configured username/password.
	ErrAuthentication = errors.New("envoy: authentication rejected")

	// ErrUnexpectedStatus is returned when the gateway answers with an
	// HTTP status the client cannot handle.
	ErrUnexpectedStatus = errors.New("envoy: unexpected response status")

	// ErrStreamClosed is returned when the live meter stream ends before
	// the caller cancels it.
	ErrStreamClosed = errors.New("envoy: meter stream closed")
)
