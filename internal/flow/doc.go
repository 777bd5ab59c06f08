// Package flow implements the guided setup and options dialogues for
// Envoy gateways.
//
// A flow is a short-lived, server-side state machine. The Manager owns
// every in-flight instance, keyed by flow id, and serializes step
// execution per flow. Steps return a Result: a form to display (with
// field schema and error codes), a created entry, or an abort with a
// reason code such as "already_configured".
//
// # Setup
//
// Setup flows start from the API or from an mDNS discovery event.
// Discovery events are first reconciled against the configured entries:
// a known serial refreshes the stored host (same IP family only) and
// aborts, a known host adopts the serial, and everything else parks a
// flow whose form has the discovered address locked in. Submitted forms
// are validated live against the gateway; credential and transport
// failures redisplay the form with an error code instead of failing the
// request.
//
// # Options
//
// Options flows edit the tuning record of one entry over an immutable
// snapshot taken when the flow starts. The submitted record replaces the
// entry's options verbatim; only schema-level coercion and minimum
// bounds apply.
//
// Abandoned flows of either kind are expired by the Manager after an
// idle TTL. Terminal results are written to the audit log.
package flow
