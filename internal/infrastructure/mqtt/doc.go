// Package mqtt is Heliograph's broker client, the fan-out path that
// lets dashboards and automations follow solar production without
// touching the HTTP API.
//
// The poll coordinator is the main publisher. Per entry it emits:
//
//	heliograph/entry/{id}/reading   poll snapshots        (not retained)
//	heliograph/entry/{id}/realtime  throttled live power  (not retained)
//	heliograph/entry/{id}/state     online/offline        (retained)
//
// plus a retained service-level status on heliograph/system/status.
// Availability works on the Last Will pattern: connect arms a retained
// offline Will, a clean shutdown publishes offline with a
// graceful_shutdown reason, and a crash lets the broker fire the Will.
// Either way, the retained topic always tells a late subscriber the
// truth.
//
// The client wraps eclipse/paho with the reliability pieces a
// long-running LAN service needs: persistent auto-reconnect with
// backoff, subscription replay after reconnect, panic containment
// around inbound handlers, and ack-or-timeout semantics on every
// operation.
//
// TLS (ssl:// scheme, TLS 1.2 minimum) and username auth switch on via
// the mqtt section of config.yaml; plaintext anonymous access is for
// development brokers only.
package mqtt
