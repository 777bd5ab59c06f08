package tsdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rowanvale/heliograph/internal/infrastructure/config"
)

const (
	connectProbeTimeout = 10 * time.Second
	writeTimeout        = 5 * time.Second

	// Fallbacks when config omits batching values. VictoriaMetrics
	// ingests line protocol cheaply, so the batch can be generous; one
	// second of flush latency keeps the history endpoint fresh.
	fallbackBatchSize    = 1000
	fallbackFlushSeconds = 1
)

// Client speaks to VictoriaMetrics over plain HTTP: InfluxDB line
// protocol into /write, PromQL out of /api/v1/query_range. It is the
// second EnergyWriter next to the InfluxDB client and the store behind
// the API's history endpoint.
//
// Writes buffer in memory and flush as one newline-delimited POST when
// the batch fills or the interval timer fires. All methods are safe for
// concurrent use.
type Client struct {
	url   string
	httpc *http.Client

	online bool
	mu     sync.RWMutex

	pending   []string
	pendMu    sync.Mutex
	batchSize int

	ticker    *time.Ticker
	stopc     chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	onWriteErr func(err error)
}

// Connect probes the server's /health endpoint and, on success, returns
// a client with the background flush loop running. Returns ErrDisabled
// when the tsdb config section has enabled: false.
func Connect(ctx context.Context, cfg config.TSDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = fallbackBatchSize
	}
	flushEvery := cfg.FlushInterval
	if flushEvery <= 0 {
		flushEvery = fallbackFlushSeconds
	}

	c := &Client{
		url:       strings.TrimRight(cfg.URL, "/"),
		httpc:     &http.Client{Timeout: writeTimeout},
		pending:   make([]string, 0, batch),
		batchSize: batch,
	}

	// Probe before starting any background work, so a failed Connect
	// leaves nothing behind.
	probeCtx, cancel := context.WithTimeout(ctx, connectProbeTimeout)
	defer cancel()
	if err := c.HealthCheck(probeCtx); err != nil {
		return nil, fmt.Errorf("%w: probe failed: %w", ErrConnectionFailed, err)
	}

	c.online = true
	c.ticker = time.NewTicker(time.Duration(flushEvery) * time.Second)
	c.stopc = make(chan struct{})
	c.wg.Add(1)
	go c.flushLoop()

	return c, nil
}

func (c *Client) flushLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ticker.C:
			c.Flush()
		case <-c.stopc:
			return
		}
	}
}

// Close stops the flush loop and sends whatever is still buffered.
// Idempotent, and safe on a nil client so main can defer it without
// caring whether the writer was enabled.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.online = false
		c.mu.Unlock()

		if c.ticker != nil {
			c.ticker.Stop()
			close(c.stopc)
			c.wg.Wait()
		}

		// One last flush for samples buffered since the final tick.
		c.Flush()
	})
	return nil
}

// HealthCheck hits the VictoriaMetrics /health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/health", nil)
	if err != nil {
		return fmt.Errorf("tsdb probe request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("tsdb probe: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) // drain for connection reuse

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tsdb probe returned %d", resp.StatusCode)
	}
	return nil
}

// IsConnected reports the last known state; the write path and the API
// history handler both gate on it.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// SetOnError registers a callback for flush failures. Writes are
// buffered, so errors can only surface asynchronously.
func (c *Client) SetOnError(hook func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWriteErr = hook
}

// addLine buffers one encoded point, flushing when the batch is full.
func (c *Client) addLine(line string) {
	if !c.IsConnected() {
		return
	}

	c.pendMu.Lock()
	c.pending = append(c.pending, line)
	full := len(c.pending) >= c.batchSize
	c.pendMu.Unlock()

	if full {
		c.Flush()
	}
}

// Flush posts the buffered lines to /write. Called by the timer, by a
// full batch, by Close, and by tests; concurrent calls are safe because
// each takes its own snapshot of the buffer.
func (c *Client) Flush() {
	c.pendMu.Lock()
	if len(c.pending) == 0 {
		c.pendMu.Unlock()
		return
	}
	lines := c.pending
	c.pending = make([]string, 0, c.batchSize)
	c.pendMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	body := strings.Join(lines, "\n")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/write", bytes.NewBufferString(body))
	if err != nil {
		c.reportError(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		return
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.reportError(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		c.reportError(fmt.Errorf("%w: HTTP %d", ErrWriteFailed, resp.StatusCode))
	}
}

func (c *Client) reportError(err error) {
	c.mu.RLock()
	hook := c.onWriteErr
	c.mu.RUnlock()
	if hook != nil {
		hook(err)
	}
}
