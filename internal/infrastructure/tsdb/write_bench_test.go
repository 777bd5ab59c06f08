package tsdb

import (
	"testing"
	"time"
)

// The encoder runs once per sample on every poll cycle, so it is worth
// keeping an eye on allocations here.

func BenchmarkEncodePoint_Power(b *testing.B) {
	tags := map[string]string{"entry_id": "ent-4f9a01bc"}
	fields := map[string]interface{}{
		"production_w":      2412.5,
		"consumption_w":     1830.2,
		"net_consumption_w": -582.3,
	}
	at := time.Date(2026, 2, 5, 12, 0, 0, 0, time.UTC)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		encodePoint("power", tags, fields, at)
	}
}

func BenchmarkEncodePoint_ManyTags(b *testing.B) {
	tags := map[string]string{
		"entry_id": "ent-4f9a01bc",
		"serial":   "482212345678",
		"host":     "envoy.local",
		"model":    "envoy-s",
		"firmware": "7.6.175",
	}
	fields := map[string]interface{}{"last_report_w": 289.0}
	at := time.Date(2026, 2, 5, 12, 0, 0, 0, time.UTC)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		encodePoint("inverter", tags, fields, at)
	}
}

func BenchmarkTagEscaper(b *testing.B) {
	for i := 0; i < b.N; i++ {
		tagEscaper.Replace("host=envoy,garage 01")
	}
}
