package discovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/zeroconf/v2"

	"github.com/rowanvale/heliograph/internal/flow"
)

// Defaults for the mDNS browse.
const (
	DefaultService      = "_enphase-envoy._tcp"
	DefaultDomain       = "local."
	DefaultRestartDelay = 5 * time.Second
)

// serialTXTKey is the TXT property carrying the gateway serial.
const serialTXTKey = "serialnum"

// entryChanSize buffers mDNS answers while the previous one is being
// reconciled.
const entryChanSize = 16

// Logger is a minimal logging interface for the discovery package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log messages. Used when no logger is provided.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Sink consumes discovery events. The flow manager satisfies it.
type Sink interface {
	HandleDiscovery(ctx context.Context, ev flow.DiscoveryEvent, source string) (*flow.Result, error)
}

// Config controls the browse.
type Config struct {
	// Service is the mDNS service type to browse. Empty means
	// DefaultService.
	Service string

	// Domain is the browse domain. Empty means DefaultDomain.
	Domain string

	// RestartDelay is the pause before restarting a failed browse.
	// Zero means DefaultRestartDelay.
	RestartDelay time.Duration
}

// Browser runs the mDNS browse and feeds answers to the Sink.
// Create with New, then Start. Safe for concurrent use.
type Browser struct {
	cfg    Config
	sink   Sink
	logger Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a browser over the sink, applying defaults for any zero
// config fields.
func New(cfg Config, sink Sink) *Browser {
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	return &Browser{cfg: cfg, sink: sink, logger: noopLogger{}}
}

// SetLogger sets the logger for the browser. Passing nil resets to the
// no-op logger.
func (b *Browser) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger = logger
}

// Start launches the browse loop. It returns immediately; the loop
// runs until Close is called or the context is cancelled.
func (b *Browser) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.started = true

	b.logger.Info("discovery started",
		"service", b.cfg.Service, "domain", b.cfg.Domain)
	go b.run(runCtx)
}

// Close stops the browse loop and waits for it to exit.
func (b *Browser) Close() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	cancel, done := b.cancel, b.done
	b.started = false
	b.mu.Unlock()

	cancel()
	<-done
	b.logger.Info("discovery stopped")
}

func (b *Browser) run(ctx context.Context) {
	defer close(b.done)

	for {
		err := b.browse(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			b.logger.Warn("browse failed, restarting",
				"error", err, "delay", b.cfg.RestartDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.cfg.RestartDelay):
		}
	}
}

// browse runs one zeroconf browse until the context ends or the browse
// fails. Answers are consumed on a separate goroutine so a slow
// reconciliation never backs up the responder.
func (b *Browser) browse(ctx context.Context) error {
	browseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, entryChanSize)
	consumed := make(chan struct{})

	go func() {
		defer close(consumed)
		for {
			select {
			case <-browseCtx.Done():
				return
			case se, ok := <-entries:
				if !ok {
					return
				}
				b.handle(browseCtx, se)
			}
		}
	}()

	err := zeroconf.Browse(browseCtx, b.cfg.Service, b.cfg.Domain, entries)
	cancel()
	<-consumed
	return err
}

// handle reconciles one mDNS answer through the sink.
func (b *Browser) handle(ctx context.Context, se *zeroconf.ServiceEntry) {
	ev, ok := eventFromEntry(se)
	if !ok {
		b.logger.Debug("ignoring mDNS answer without serial or address",
			"instance", se.Instance)
		return
	}

	res, err := b.sink.HandleDiscovery(ctx, ev, flow.SourceMDNS)
	if err != nil {
		b.logger.Warn("discovery reconciliation failed",
			"serial", ev.Serial, "host", ev.Host, "error", err)
		return
	}

	switch res.Kind {
	case flow.ResultForm:
		b.logger.Info("gateway discovered, setup flow parked",
			"serial", ev.Serial, "host", ev.Host, "flow_id", res.FlowID)
	case flow.ResultAborted:
		b.logger.Debug("gateway discovery reconciled",
			"serial", ev.Serial, "host", ev.Host, "reason", res.Reason)
	}
}

// eventFromEntry extracts the discovery event from an mDNS answer: the
// serialnum TXT property and the first address, preferring IPv4 the
// way the gateway's own interface listing does. Answers without both
// are not usable.
func eventFromEntry(se *zeroconf.ServiceEntry) (flow.DiscoveryEvent, bool) {
	serial := txtValue(se.Text, serialTXTKey)
	if serial == "" {
		return flow.DiscoveryEvent{}, false
	}

	var host string
	switch {
	case len(se.AddrIPv4) > 0:
		host = se.AddrIPv4[0].String()
	case len(se.AddrIPv6) > 0:
		host = se.AddrIPv6[0].String()
	default:
		return flow.DiscoveryEvent{}, false
	}

	return flow.DiscoveryEvent{Serial: serial, Host: host}, true
}

// txtValue finds a key=value TXT property, case-insensitive on the key.
func txtValue(txt []string, key string) string {
	for _, kv := range txt {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
