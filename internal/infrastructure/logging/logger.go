package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rowanvale/heliograph/internal/infrastructure/config"
)

// secretAttrs lists attribute keys that must never reach a log sink
// with their real value. Entry records carry Enlighten account
// passwords and the poll path holds Envoy session tokens; scrubbing at
// the handler level means a stray logger.Debug("submit", "password", v)
// anywhere in the tree cannot leak them.
var secretAttrs = map[string]struct{}{
	"password": {},
	"token":    {},
	"secret":   {},
	"api_key":  {},
}

const redactedValue = "[redacted]"

// Logger is the structured logger handed to every Heliograph
// component. It embeds *slog.Logger, so the full slog API is available,
// and adds credential scrubbing plus service/version default fields.
//
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of the config file.
//
// Format selects between JSON (the default, for journald/Loki style
// collection) and text (readable during development). Level filters at
// debug/info/warn/error, defaulting to info. Output goes to stdout
// unless "stderr" is configured. Every record carries service and
// version fields so logs from several Heliograph instances can be
// separated downstream.
func New(cfg config.LoggingConfig, version string) *Logger {
	handler := newHandler(sinkFor(cfg.Output), cfg)
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "heliograph"),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// sinkFor maps the configured output name to a writer.
func sinkFor(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// newHandler builds the slog handler for the configured format with
// level filtering and credential scrubbing applied.
func newHandler(w io.Writer, cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       levelFrom(cfg.Level),
		ReplaceAttr: scrubSecrets,
	}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// scrubSecrets replaces the value of any attribute whose key names a
// credential. Group paths are ignored on purpose: "password" is a
// secret no matter where it appears.
func scrubSecrets(_ []string, a slog.Attr) slog.Attr {
	if _, ok := secretAttrs[strings.ToLower(a.Key)]; ok {
		a.Value = slog.StringValue(redactedValue)
	}
	return a
}

// levelFrom parses a config level string, defaulting to info for
// anything it does not recognise.
func levelFrom(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child logger carrying extra default attributes,
// typically a component tag:
//
//	pollLog := logger.With("component", "coordinator")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default returns a JSON/info logger for the window before the config
// file has been read. main uses it to report config load failures.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
