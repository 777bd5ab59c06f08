// Package api implements the HTTP REST API and WebSocket server for
// Heliograph.
//
// Endpoints cover the setup/reauth/options flows (forms as JSON
// schemas), the configured-entry directory, audit and history queries,
// and a metrics snapshot. A WebSocket hub pushes entry lifecycle events
// and readings to subscribed clients.
//
// The server shares the lifecycle shape of the other infrastructure
// clients in this tree:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Every exported method is safe for concurrent use.
//
// # Architecture
//
// The API server is the control plane: clients drive configuration flows
// and manage entries here, while telemetry reaches them over MQTT or the
// WebSocket hub. The poll coordinator broadcasts into the hub directly;
// the server itself never talks to an Envoy.
//
// # Security
//
// Deployments on a trusted LAN can run with auth disabled. When enabled,
// requests carry operator-issued HS256 bearer tokens. WebSocket
// connections use single-use tickets to prevent token leakage in URLs.
//
// # Graceful Degradation
//
// The server operates without MQTT, the TSDB, or the audit store. The
// affected endpoints degrade (503 for history, empty metrics sections)
// while flows and entry management keep working.
package api
