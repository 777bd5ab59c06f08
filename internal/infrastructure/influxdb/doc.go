// Package influxdb archives solar telemetry to InfluxDB v2.
//
// Heliograph treats InfluxDB as the optional long-term store behind the
// poll loop: every cycle the coordinator's workers fan a snapshot out
// to MQTT for live consumers and, when this writer is enabled, drop the
// same figures here for history. Three measurements cover the domain:
//
//	power     production_w / consumption_w / net_consumption_w, tagged entry_id
//	energy    lifetime and daily watt-hour counters, tagged entry_id
//	inverter  per-panel last/max report, tagged entry_id and serial
//
// The client wraps influxdb-client-go's non-blocking write API. Points
// batch in memory and flush on size or interval, so poll cadence never
// waits on the archive; asynchronous write failures reach main through
// SetOnError and end up in the log. When the section is disabled in
// config.yaml the service simply runs without history.
package influxdb
