package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// The writers below are fire-and-forget on purpose: a poll cycle must
// not fail because the archive is slow, so points go into the batching
// write API and errors come back through the SetOnError callback. While
// the client is disconnected, samples are dropped silently; the
// authoritative record of a poll is the MQTT snapshot, InfluxDB is the
// history.

// WritePower records one poll cycle's instantaneous figures for an
// entry: solar production, total consumption (zero when the site has no
// consumption CT), and net grid flow where negative means export.
func (c *Client) WritePower(entryID string, productionW, consumptionW, netConsumptionW float64) {
	c.emit("power",
		map[string]string{"entry_id": entryID},
		map[string]interface{}{
			"production_w":      productionW,
			"consumption_w":     consumptionW,
			"net_consumption_w": netConsumptionW,
		})
}

// WriteEnergy records cumulative watt-hour counters. Lifetime
// production is always present; consumption and today's counters are
// omitted when the gateway does not report them, so zero-filled series
// never appear in dashboards.
func (c *Client) WriteEnergy(entryID string, lifetimeProductionWh, lifetimeConsumptionWh, dailyProductionWh float64) {
	fields := map[string]interface{}{
		"lifetime_production_wh": lifetimeProductionWh,
	}
	if lifetimeConsumptionWh > 0 {
		fields["lifetime_consumption_wh"] = lifetimeConsumptionWh
	}
	if dailyProductionWh > 0 {
		fields["daily_production_wh"] = dailyProductionWh
	}

	c.emit("energy", map[string]string{"entry_id": entryID}, fields)
}

// WriteInverter records a single microinverter's report. Only emitted
// for entries with per-panel metrics enabled; serial joins entry_id in
// the tag set so one panel can be graphed across its lifetime.
func (c *Client) WriteInverter(entryID, serial string, lastReportW, maxReportW float64) {
	c.emit("inverter",
		map[string]string{"entry_id": entryID, "serial": serial},
		map[string]interface{}{
			"last_report_w": lastReportW,
			"max_report_w":  maxReportW,
		})
}

// emit stamps and enqueues one point if the client is up.
func (c *Client) emit(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writes.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
