// Package tsdb stores power and energy history in VictoriaMetrics,
// writing InfluxDB line protocol to /write and reading back with PromQL
// range queries. It uses plain net/http because VictoriaMetrics has no
// official Go client and both endpoints are a single request each.
//
// Three series families are written per entry:
//   - power: production_w, consumption_w, net_consumption_w
//   - energy: lifetime_production_wh plus optional consumption/daily
//   - inverter: last_report_w, max_report_w per panel serial
//
// VictoriaMetrics exposes them as {measurement}_{field}, so the API's
// history endpoint asks for e.g. power_production_w{entry_id="ent-4f9a01bc"}.
//
// Writers never block and never return errors; samples buffer in memory
// and flush as one newline-delimited POST when the batch fills or the
// interval timer fires. Flush failures surface through the SetOnError
// callback, and a lost batch costs at most a few seconds of history
// because MQTT carries the authoritative live snapshot.
//
//	client, err := tsdb.Connect(ctx, cfg.TSDB)
//	if err != nil { ... }
//	defer client.Close()
//	client.WritePower("ent-4f9a01bc", 2412.5, 890.0, -1522.5)
//
// All methods are safe for concurrent use.
package tsdb
