package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/rowanvale/heliograph/internal/infrastructure/config"
)

const (
	connectPingTimeout = 10 * time.Second
	healthPingTimeout  = 5 * time.Second

	// Fallbacks when the config omits batching values. A hundred points
	// is several poll cycles across a whole fleet; ten seconds keeps
	// dashboard lag well under one 60s scan interval.
	fallbackBatchSize    = 100
	fallbackFlushSeconds = 10
)

// Client is the long-term archive writer. Poll workers hand it power,
// energy, and per-inverter samples; the non-blocking write API batches
// them so a fleet of Envoys costs one HTTP request every flush interval
// rather than one per sample.
//
// Safe for concurrent use. Writes never block a poll cycle; failures
// surface asynchronously through the SetOnError callback.
type Client struct {
	influx influxdb2.Client
	writes api.WriteAPI
	cfg    config.InfluxDBConfig

	online bool
	mu     sync.RWMutex

	onWriteErr func(err error)
}

// Connect builds the client and proves the server is reachable before
// returning it. Returns ErrDisabled when the influxdb config section
// has enabled: false, which main treats as "skip this writer", not as
// a failure.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, batchOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectPingTimeout)
	defer cancel()

	healthy, err := influx.Ping(ctx)
	if err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		influx.Close()
		return nil, fmt.Errorf("%w: server reports unhealthy", ErrConnectionFailed)
	}

	c := &Client{
		influx: influx,
		writes: influx.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:    cfg,
		online: true,
	}
	go c.forwardWriteErrors(c.writes.Errors())

	return c, nil
}

// batchOptions maps config batching onto client options, substituting
// fallbacks for unset values.
func batchOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = fallbackBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = fallbackFlushSeconds
	}
	// #nosec G115 -- both values forced positive above
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush) * 1000) // SDK takes milliseconds
}

// forwardWriteErrors drains the async error channel into the optional
// callback. The channel closes when the client closes, ending the
// goroutine.
func (c *Client) forwardWriteErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		hook := c.onWriteErr
		c.mu.RUnlock()
		if hook != nil {
			hook(err)
		}
	}
}

// Close flushes buffered points and shuts the client down. Samples
// written after Close are dropped at the IsConnected gate.
func (c *Client) Close() error {
	if c.influx == nil {
		return nil
	}

	c.mu.Lock()
	c.online = false
	c.mu.Unlock()

	c.writes.Flush()
	c.influx.Close()
	return nil
}

// HealthCheck pings the server; used by the startup probe and the
// health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	pingCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()

	healthy, err := c.influx.Ping(pingCtx)
	if err != nil {
		return fmt.Errorf("influxdb ping: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb server reports unhealthy")
	}
	return nil
}

// IsConnected reports the last known state. It is the gate the write
// helpers check so poll workers stay cheap while the archive is down.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// SetOnError registers a callback for asynchronous write failures.
// main logs them; without a callback they are dropped.
func (c *Client) SetOnError(hook func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWriteErr = hook
}

// Flush blocks until buffered points are sent. Tests use it to make
// batched writes observable; shutdown goes through Close instead.
func (c *Client) Flush() {
	if c.writes == nil || !c.IsConnected() {
		return
	}
	c.writes.Flush()
}
