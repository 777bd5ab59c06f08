package tsdb

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Measurement and field names match the InfluxDB writer so a deployment
// can switch history stores without renaming its dashboards.

// WritePower records one poll cycle's instantaneous readings for an
// entry. Consumption figures are zero for systems without CTs.
func (c *Client) WritePower(entryID string, productionW, consumptionW, netConsumptionW float64) {
	c.addLine(encodePoint("power",
		map[string]string{"entry_id": entryID},
		map[string]interface{}{
			"production_w":      productionW,
			"consumption_w":     consumptionW,
			"net_consumption_w": netConsumptionW,
		},
		time.Now()))
}

// WriteEnergy records cumulative totals for an entry. Consumption and
// daily figures are skipped when the gateway does not report them, so
// the series only exist on systems that can fill them.
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

	c.addLine(encodePoint("energy",
		map[string]string{"entry_id": entryID},
		fields,
		time.Now()))
}

// WriteInverter records one microinverter's last report. Only called
// for entries with per-panel metrics enabled.
func (c *Client) WriteInverter(entryID, serial string, lastReportW, maxReportW float64) {
	c.addLine(encodePoint("inverter",
		map[string]string{
			"entry_id": entryID,
			"serial":   serial,
		},
		map[string]interface{}{
			"last_report_w": lastReportW,
			"max_report_w":  maxReportW,
		},
		time.Now()))
}

// Line protocol forbids unescaped separators in names and tag values,
// and a newline would let a crafted serial smuggle in extra samples, so
// newlines are dropped outright.
var (
	tagEscaper  = strings.NewReplacer("\n", "", "\r", "", " ", `\ `, ",", `\,`, "=", `\=`)
	nameEscaper = strings.NewReplacer("\n", "", "\r", "", " ", `\ `, ",", `\,`)
)

// encodePoint renders one sample as InfluxDB line protocol:
//
//	measurement,tag=val field=1,field2=2 <unix-nanos>
//
// Keys are emitted in sorted order so the output is deterministic.
func encodePoint(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) string {
	var b strings.Builder
	b.WriteString(nameEscaper.Replace(measurement))

	for _, k := range sortedTagKeys(tags) {
		b.WriteByte(',')
		b.WriteString(tagEscaper.Replace(k))
		b.WriteByte('=')
		b.WriteString(tagEscaper.Replace(tags[k]))
	}

	sep := byte(' ')
	for _, k := range sortedFieldKeys(fields) {
		b.WriteByte(sep)
		sep = ','
		b.WriteString(tagEscaper.Replace(k))
		b.WriteByte('=')
		writeFieldValue(&b, fields[k])
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(at.UnixNano(), 10))
	return b.String()
}

// writeFieldValue renders a field in line protocol typing: bare floats,
// an i suffix on integers, quoted strings.
func writeFieldValue(b *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case int:
		b.WriteString(strconv.Itoa(val))
		b.WriteByte('i')
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
		b.WriteByte('i')
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case string:
		b.WriteString(strconv.Quote(val))
	default:
		fmt.Fprintf(b, "%v", val)
	}
}

func sortedTagKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFieldKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
