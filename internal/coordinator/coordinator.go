package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rowanvale/heliograph/internal/entry"
	"github.com/rowanvale/heliograph/internal/envoy"
	"github.com/rowanvale/heliograph/internal/infrastructure/mqtt"
)

// WebSocket channels the coordinator broadcasts on. Clients subscribe
// to these names over the event stream.
const (
	ChannelEntryCreated  = "entry.created"
	ChannelEntryUpdated  = "entry.updated"
	ChannelEntryReloaded = "entry.reloaded"
	ChannelEntryDeleted  = "entry.deleted"
	ChannelReading       = "entry.reading"
	ChannelRealtime      = "entry.realtime"
	ChannelAvailability  = "entry.availability"
)

// Retained availability states published to the entry state topic.
const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// Logger is the minimal logging interface the coordinator needs.
// logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EntrySource provides the configured entries and mutation signals.
// *entry.Store satisfies it.
type EntrySource interface {
	// List returns all configured entries.
	List(ctx context.Context) ([]entry.Entry, error)

	// Subscribe registers a callback invoked synchronously after each
	// store mutation. The callback must not block.
	Subscribe(fn func(entry.Event))
}

// Publisher is the MQTT surface the coordinator publishes through.
// *mqtt.Client satisfies it.
type Publisher interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// PublishRetained sends a retained message at QoS 1.
	PublishRetained(topic string, payload []byte) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// EnergyWriter receives typed measurement points. Both *influxdb.Client
// and *tsdb.Client satisfy it, so one fan-out loop serves both stores.
type EnergyWriter interface {
	// WritePower records instantaneous power readings.
	WritePower(entryID string, productionW, consumptionW, netConsumptionW float64)

	// WriteEnergy records cumulative energy totals.
	WriteEnergy(entryID string, lifetimeProductionWh, lifetimeConsumptionWh, dailyProductionWh float64)

	// WriteInverter records one microinverter report.
	WriteInverter(entryID, serial string, lastReportW, maxReportW float64)
}

// Broadcaster pushes events to connected WebSocket clients.
// *api.Hub satisfies it.
type Broadcaster interface {
	// Broadcast sends an event to all clients subscribed to the channel.
	Broadcast(channel string, payload any)
}

// ClientFactory builds a device client for one entry's connection
// config. Production wires envoy.NewHTTPClient; tests substitute fakes.
type ClientFactory func(cfg envoy.Config) envoy.Client

// Options holds the dependencies for creating a Coordinator.
type Options struct {
	// Entries is the entry source. Required.
	Entries EntrySource

	// NewClient builds device clients. Required.
	NewClient ClientFactory

	// Publisher is the MQTT client. Optional; nil disables MQTT fan-out.
	Publisher Publisher

	// Writers receive measurement points. Optional.
	Writers []EnergyWriter

	// Events is the WebSocket hub. Optional.
	Events Broadcaster

	// Logger is an optional structured logger.
	Logger Logger
}

// Coordinator owns one polling worker per configured entry.
// Create with New, then Start. All methods are safe for concurrent use.
type Coordinator struct {
	entries   EntrySource
	newClient ClientFactory
	publisher Publisher
	writers   []EnergyWriter
	events    Broadcaster
	logger    Logger
	topics    mqtt.Topics

	mu      sync.Mutex
	workers map[string]*worker
	started bool
	ctx     context.Context
	cancel  context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a coordinator. Call Start to begin polling.
func New(opts Options) (*Coordinator, error) {
	if opts.Entries == nil {
		return nil, ErrNoEntrySource
	}
	if opts.NewClient == nil {
		return nil, ErrNoClientFactory
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Coordinator{
		entries:   opts.Entries,
		newClient: opts.NewClient,
		publisher: opts.Publisher,
		writers:   opts.Writers,
		events:    opts.Events,
		logger:    logger,
		workers:   make(map[string]*worker),
	}, nil
}

// Start lists the configured entries, launches a worker for each and
// subscribes to store events so workers follow entry mutations. It
// returns once all workers are launched; polling continues until the
// context is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true
	c.mu.Unlock()

	entries, err := c.entries.List(ctx)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}
	for i := range entries {
		c.startWorker(entries[i])
	}

	c.entries.Subscribe(c.handleEvent)

	c.logger.Info("coordinator started", "entries", len(entries))
	return nil
}

// Stop cancels all workers, waits for them to finish and flips every
// entry's retained availability topic to offline. Call before closing
// the MQTT client so the final publishes go out.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		// Flip started under the lock first so a store event delivered
		// during shutdown cannot launch a worker after the wait begins.
		c.mu.Lock()
		c.started = false
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		c.wg.Wait()

		c.mu.Lock()
		ids := make([]string, 0, len(c.workers))
		for id := range c.workers {
			ids = append(ids, id)
		}
		c.workers = make(map[string]*worker)
		c.mu.Unlock()

		for _, id := range ids {
			c.publishState(id, false)
		}

		c.logger.Info("coordinator stopped")
	})
}

// WorkerCount returns the number of running workers.
func (c *Coordinator) WorkerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.workers)
}

// handleEvent reacts to an entry store mutation. Runs inside the
// store's synchronous notify path, so it only swaps map slots and
// launches goroutines; it never waits on one.
func (c *Coordinator) handleEvent(ev entry.Event) {
	if ev.Entry == nil {
		return
	}

	switch ev.Kind {
	case entry.EventCreated:
		c.startWorker(*ev.Entry)
		c.broadcast(ChannelEntryCreated, ev.Entry)
	case entry.EventUpdated:
		c.startWorker(*ev.Entry)
		c.broadcast(ChannelEntryUpdated, ev.Entry)
	case entry.EventReloaded:
		c.startWorker(*ev.Entry)
		c.broadcast(ChannelEntryReloaded, ev.Entry)
	case entry.EventDeleted:
		c.stopWorker(ev.Entry.ID, true)
		c.broadcast(ChannelEntryDeleted, ev.Entry)
	}
}

// startWorker launches a polling worker for the entry, replacing any
// worker already registered under the same id. The replaced worker is
// cancelled but not awaited; the wait group covers its exit.
func (c *Coordinator) startWorker(e entry.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.ctx.Err() != nil {
		return
	}

	if old, ok := c.workers[e.ID]; ok {
		old.cancel()
	}

	ctx, cancel := context.WithCancel(c.ctx)
	w := &worker{
		c:      c,
		entry:  e,
		client: c.newClient(clientConfig(e)),
		cancel: cancel,
	}
	c.workers[e.ID] = w

	c.wg.Add(1)
	go w.run(ctx)

	c.logger.Info("worker started",
		"entry_id", e.ID,
		"host", e.Host,
		"interval", e.Options.PollInterval(),
		"realtime", e.Options.EnableRealtimeUpdates,
	)
}

// stopWorker cancels and forgets the worker for an entry. When
// markOffline is set the retained availability topic flips to offline.
func (c *Coordinator) stopWorker(id string, markOffline bool) {
	c.mu.Lock()
	w, ok := c.workers[id]
	if ok {
		delete(c.workers, id)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	w.cancel()

	if markOffline {
		c.publishState(id, false)
	}
	c.logger.Info("worker stopped", "entry_id", id)
}

// availabilityPayload is broadcast when an entry goes online or offline.
type availabilityPayload struct {
	EntryID string `json:"entry_id"`
	Online  bool   `json:"online"`
}

// publishState publishes the retained availability topic for an entry
// and mirrors the change to WebSocket subscribers.
func (c *Coordinator) publishState(entryID string, online bool) {
	state := availabilityOffline
	if online {
		state = availabilityOnline
	}

	if c.publisher != nil && c.publisher.IsConnected() {
		topic := c.topics.EntryState(entryID)
		if err := c.publisher.PublishRetained(topic, []byte(state)); err != nil {
			c.logger.Warn("availability publish failed",
				"entry_id", entryID,
				"state", state,
				"error", err,
			)
		}
	}

	c.broadcast(ChannelAvailability, availabilityPayload{EntryID: entryID, Online: online})
}

// broadcast forwards an event to the WebSocket hub when one is wired.
func (c *Coordinator) broadcast(channel string, payload any) {
	if c.events != nil {
		c.events.Broadcast(channel, payload)
	}
}

// clientConfig maps an entry's stored data and options onto the device
// client configuration. The serial falls back to the unique id when the
// setup flow never captured one directly.
func clientConfig(e entry.Entry) envoy.Config {
	serial := e.Serial
	if serial == "" && e.UniqueID != nil {
		serial = *e.UniqueID
	}

	return envoy.Config{
		Host:      e.Host,
		Username:  e.Username,
		Password:  e.Password,
		Serial:    serial,
		Timeout:   e.Options.FetchTimeout(),
		Inverters: e.Options.EnableAdditionalMetrics,
		CommCheck: e.Options.EnableCommCheck,
		DevStatus: e.Options.DevstatusDeviceData,
		Disabled:  envoy.DisabledSet(e.Options.DisabledEndpoints),
	}
}
