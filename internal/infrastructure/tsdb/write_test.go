package tsdb

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

// trimTimestamp cuts the trailing nanosecond stamp so assertions can
// compare the stable part of a line.
func trimTimestamp(t *testing.T, line string) string {
	t.Helper()
	i := strings.LastIndexByte(line, ' ')
	if i < 0 {
		t.Fatalf("malformed line %q", line)
	}
	if _, err := strconv.ParseInt(line[i+1:], 10, 64); err != nil {
		t.Fatalf("timestamp in %q: %v", line, err)
	}
	return line[:i]
}

// flushedLines flushes the client and returns the lines of the most
// recent batch the fake received.
func flushedLines(t *testing.T, f *fakeVM, client *Client) []string {
	t.Helper()
	client.Flush()
	bodies := f.writeBodies()
	if len(bodies) == 0 {
		t.Fatal("no write reached the server")
	}
	return strings.Split(bodies[len(bodies)-1], "\n")
}

// ─── Encoder ─────────────────────────────────────────────────────────────────

func TestEncodePoint(t *testing.T) {
	at := time.Date(2026, 2, 5, 12, 0, 0, 0, time.UTC)
	nanos := strconv.FormatInt(at.UnixNano(), 10)

	tests := []struct {
		name        string
		measurement string
		tags        map[string]string
		fields      map[string]interface{}
		want        string
	}{
		{
			name:        "tags and fields sorted",
			measurement: "power",
			tags:        map[string]string{"serial": "s1", "entry_id": "e1"},
			fields:      map[string]interface{}{"b": 2.0, "a": 1.0},
			want:        `power,entry_id=e1,serial=s1 a=1,b=2 ` + nanos,
		},
		{
			name:        "field typing",
			measurement: "m",
			fields: map[string]interface{}{
				"f":   1.5,
				"i":   42,
				"i64": int64(-7),
				"ok":  true,
				"s":   "envoy s",
			},
			want: `m f=1.5,i=42i,i64=-7i,ok=true,s="envoy s" ` + nanos,
		},
		{
			name:        "separators escaped",
			measurement: "po wer",
			tags:        map[string]string{"host": "envoy,garage 01", "mode": "a=b"},
			fields:      map[string]interface{}{"v": 1.0},
			want:        `po\ wer,host=envoy\,garage\ 01,mode=a\=b v=1 ` + nanos,
		},
		{
			name:        "newlines stripped",
			measurement: "inverter",
			tags:        map[string]string{"serial": "abc\ndef\r"},
			fields:      map[string]interface{}{"v": 1.0},
			want:        `inverter,serial=abcdef v=1 ` + nanos,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := encodePoint(tt.measurement, tt.tags, tt.fields, at)
			if got != tt.want {
				t.Errorf("encodePoint() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ─── Writers ─────────────────────────────────────────────────────────────────

func TestWritePower_Line(t *testing.T) {
	f := newFakeVM(t)
	client := connectToFake(t, f)

	client.WritePower("ent-4f9a01bc", 2412.5, 890, -1522.5)

	lines := flushedLines(t, f, client)
	want := `power,entry_id=ent-4f9a01bc consumption_w=890,net_consumption_w=-1522.5,production_w=2412.5`
	if got := trimTimestamp(t, lines[0]); got != want {
		t.Errorf("line = %q, want %q", got, want)
	}
}

func TestWriteEnergy_OmitsUnreportedFields(t *testing.T) {
	f := newFakeVM(t)
	client := connectToFake(t, f)

	// Production-only system: no CT, no daily figure from the gateway.
	client.WriteEnergy("ent-1", 5000, 0, 0)
	lines := flushedLines(t, f, client)
	want := `energy,entry_id=ent-1 lifetime_production_wh=5000`
	if got := trimTimestamp(t, lines[0]); got != want {
		t.Errorf("line = %q, want %q", got, want)
	}

	client.WriteEnergy("ent-1", 5000, 3200, 410)
	lines = flushedLines(t, f, client)
	want = `energy,entry_id=ent-1 daily_production_wh=410,lifetime_consumption_wh=3200,lifetime_production_wh=5000`
	if got := trimTimestamp(t, lines[0]); got != want {
		t.Errorf("line = %q, want %q", got, want)
	}
}

func TestWriteInverter_Line(t *testing.T) {
	f := newFakeVM(t)
	client := connectToFake(t, f)

	client.WriteInverter("ent-1", "482216049522", 295.5, 301)

	lines := flushedLines(t, f, client)
	want := `inverter,entry_id=ent-1,serial=482216049522 last_report_w=295.5,max_report_w=301`
	if got := trimTimestamp(t, lines[0]); got != want {
		t.Errorf("line = %q, want %q", got, want)
	}
}

func TestWriters_DropSamplesWhenOffline(t *testing.T) {
	client := &Client{}

	client.WritePower("ent-1", 100, 0, 0)
	client.WriteEnergy("ent-1", 5000, 0, 0)
	client.WriteInverter("ent-1", "sn", 1, 2)

	if n := len(client.pending); n != 0 {
		t.Errorf("pending samples on offline client = %d, want 0", n)
	}
}
