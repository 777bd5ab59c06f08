// Package envoy communicates with Enphase Envoy solar gateways over their
// local HTTP API.
//
// The package exposes a narrow Client interface (fetch a data snapshot,
// fetch the full serial number, stream live meter readings) so that the
// setup flows and the poll coordinator never depend on transport details.
// HTTPClient is the production implementation; tests substitute fakes.
//
// # Authentication
//
// Firmware 7 gateways require a JWT obtained from the Enlighten cloud
// (owner username/password) and presented to the gateway over TLS. The
// gateway uses a self-signed certificate, so verification is disabled for
// the local connection only. Credential failures surface as
// ErrAuthentication; transport failures as ErrConnection. Callers map
// these onto form error codes with errors.Is.
//
// # Endpoints
//
// The Endpoints catalog lists every local API path the client knows,
// flagged optional or required. Optional endpoints can be switched off
// per entry via the options record; required ones are always fetched.
package envoy
