package flow

import "errors"

// Domain errors for the flow package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, flow.ErrFlowNotFound) {
//	    // flow id unknown or already finished/expired
//	}
var (
	// ErrFlowNotFound is returned when a flow id does not name an
	// in-flight flow. Finished and expired flows are indistinguishable
	// from flows that never existed.
	ErrFlowNotFound = errors.New("flow: not found")

	// ErrInvalidInput is returned when submitted form input fails schema
	// coercion or bounds checking.
	ErrInvalidInput = errors.New("flow: invalid input")

	// ErrInvalidEvent is returned when a discovery event is missing its
	// serial or host.
	ErrInvalidEvent = errors.New("flow: invalid discovery event")
)
