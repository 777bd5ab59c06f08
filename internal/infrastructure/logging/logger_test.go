package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/rowanvale/heliograph/internal/infrastructure/config"
)

func TestNew_ReturnsUsableLogger(t *testing.T) {
	logger := New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "1.0.0")
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}

	logger = New(config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}, "1.0.0")
	if logger == nil {
		t.Fatal("expected non-nil text logger")
	}
}

func TestLevelFrom(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := levelFrom(tt.input); got != tt.want {
			t.Errorf("levelFrom(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestScrubSecrets_RedactsCredentialKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: slog.New(newHandler(&buf, config.LoggingConfig{Level: "info", Format: "json"}))}

	logger.Info("reauth submitted",
		"entry_id", "ent-1234",
		"password", "hunter2",
		"Token", "eyJhbGciOi.session.jwt",
	)

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Error("password value leaked into log output")
	}
	if strings.Contains(out, "eyJhbGciOi") {
		t.Error("token value leaked into log output")
	}
	if !strings.Contains(out, redactedValue) {
		t.Error("expected redaction marker in output")
	}
	if !strings.Contains(out, "ent-1234") {
		t.Error("non-secret attribute should pass through untouched")
	}
}

func TestScrubSecrets_LeavesOrdinaryKeysAlone(t *testing.T) {
	a := scrubSecrets(nil, slog.String("host", "192.168.1.40"))
	if a.Value.String() != "192.168.1.40" {
		t.Errorf("host = %q, want untouched value", a.Value.String())
	}

	a = scrubSecrets(nil, slog.String("PASSWORD", "x"))
	if a.Value.String() != redactedValue {
		t.Error("redaction should be case-insensitive")
	}
}

func TestLogger_With(t *testing.T) {
	logger := New(config.LoggingConfig{Level: "info", Format: "json"}, "1.0.0")
	child := logger.With("component", "coordinator")

	if child == nil {
		t.Fatal("expected non-nil child logger")
	}
	if child == logger {
		t.Error("With should return a distinct logger")
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("expected non-nil default logger")
	}
}

func TestNew_RecordsCarryServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	handler := newHandler(&buf, config.LoggingConfig{Level: "info", Format: "json"})
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "heliograph"),
		slog.String("version", "test"),
	})
	logger := &Logger{Logger: slog.New(handler)}

	logger.Info("poll cycle complete", "entries", 3)

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if record["service"] != "heliograph" {
		t.Errorf("service = %v, want heliograph", record["service"])
	}
	if record["version"] != "test" {
		t.Errorf("version = %v, want test", record["version"])
	}
	if record["msg"] != "poll cycle complete" {
		t.Errorf("msg = %v, want poll cycle complete", record["msg"])
	}
	if record["entries"] != float64(3) {
		t.Errorf("entries = %v, want 3", record["entries"])
	}
}
