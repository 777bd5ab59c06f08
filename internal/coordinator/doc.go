// Package coordinator polls configured Envoy gateways and fans the
// results out to MQTT, the time-series writers and the WebSocket hub.
//
// One worker goroutine runs per entry. Each cycle it fetches a data
// snapshot with the entry's fetch-timeout budget, applies the options
// post-processing (negative production clamp, lifetime correction) and
// publishes the result. Entries with realtime updates enabled run a
// second goroutine that consumes the gateway's live meter stream,
// throttled to the configured minimum gap.
//
// The coordinator subscribes to entry store events: a created entry
// gains a worker, an updated or reloaded entry has its worker replaced
// with one built from the fresh snapshot, and a deleted entry's worker
// stops and its retained availability topic flips to offline.
//
// All sinks are optional. A nil publisher, empty writer list or nil
// broadcaster simply skips that fan-out, so the poller keeps running
// when a broker or database is down at startup.
package coordinator
