package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rowanvale/heliograph/internal/entry"
	"github.com/rowanvale/heliograph/internal/envoy"
)

const (
	// readingQoS delivers poll snapshots at least once.
	readingQoS byte = 1

	// realtimeQoS is best-effort; the stream replaces lost samples
	// within seconds.
	realtimeQoS byte = 0

	// realtimeBufferSize decouples the meter stream from publishing.
	realtimeBufferSize = 16

	// streamRetryDelay is the pause before reopening a broken stream.
	streamRetryDelay = 10 * time.Second
)

// worker polls one entry. Fields other than cancel are only touched
// from the worker's own goroutines.
type worker struct {
	c      *Coordinator
	entry  entry.Entry
	client envoy.Client
	cancel context.CancelFunc

	// Availability change tracking, poll goroutine only.
	online    bool
	announced bool
}

// run is the worker's main loop: one immediate poll so a fresh entry
// reports without waiting a full interval, then a tick per poll
// interval until cancelled.
func (w *worker) run(ctx context.Context) {
	defer w.c.wg.Done()

	if w.entry.Options.EnableRealtimeUpdates {
		w.c.wg.Add(1)
		go w.runRealtime(ctx)
	}

	ticker := time.NewTicker(w.entry.Options.PollInterval())
	defer ticker.Stop()

	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll runs one fetch cycle: snapshot, post-process, fan out.
func (w *worker) poll(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.entry.Options.FetchTimeout())
	data, err := w.client.FetchData(fetchCtx)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.c.logger.Warn("poll failed",
			"entry_id", w.entry.ID,
			"host", w.entry.Host,
			"error", err,
		)
		w.setAvailability(false)
		return
	}

	applyCorrections(data, w.entry.Options)

	w.setAvailability(true)
	w.publishReading(data)
	w.writePoints(data)
}

// applyCorrections post-processes a snapshot per the entry options:
// clamp negative production at zero and shift the lifetime total by the
// stored correction.
func applyCorrections(data *envoy.Data, opts entry.Options) {
	if opts.DisableNegativeProduction && data.ProductionW < 0 {
		data.ProductionW = 0
	}
	if opts.LifetimeCorrection != 0 {
		data.LifetimeProductionWh += float64(opts.LifetimeCorrection)
	}
}

// clampReading applies the negative production clamp to a live sample.
func clampReading(r *envoy.Reading, opts entry.Options) {
	if opts.DisableNegativeProduction && r.ProductionW < 0 {
		r.ProductionW = 0
	}
}

// setAvailability publishes the retained availability state when it
// changes, plus once on the first poll so a restart refreshes the topic.
func (w *worker) setAvailability(online bool) {
	if w.announced && w.online == online {
		return
	}
	w.announced = true
	w.online = online
	w.c.publishState(w.entry.ID, online)
}

// readingPayload is the JSON document published per poll snapshot.
type readingPayload struct {
	EntryID string      `json:"entry_id"`
	Data    *envoy.Data `json:"data"`
}

// publishReading sends a poll snapshot to MQTT and the WebSocket hub.
func (w *worker) publishReading(data *envoy.Data) {
	p := readingPayload{EntryID: w.entry.ID, Data: data}

	if w.c.publisher != nil && w.c.publisher.IsConnected() {
		body, err := json.Marshal(p)
		if err != nil {
			w.c.logger.Error("encoding reading failed", "entry_id", w.entry.ID, "error", err)
			return
		}
		topic := w.c.topics.EntryReading(w.entry.ID)
		if err := w.c.publisher.Publish(topic, body, readingQoS, false); err != nil {
			w.c.logger.Warn("reading publish failed", "entry_id", w.entry.ID, "error", err)
		}
	}

	w.c.broadcast(ChannelReading, p)
}

// writePoints fans a snapshot out to every wired time-series store.
func (w *worker) writePoints(data *envoy.Data) {
	for _, wr := range w.c.writers {
		wr.WritePower(w.entry.ID, data.ProductionW, data.ConsumptionW, data.NetConsumptionW)
		wr.WriteEnergy(w.entry.ID, data.LifetimeProductionWh, data.LifetimeConsumptionWh, data.DailyProductionWh)
		for i := range data.Inverters {
			inv := &data.Inverters[i]
			wr.WriteInverter(w.entry.ID, inv.SerialNumber, inv.LastReportWatts, inv.MaxReportWatts)
		}
	}
}

// runRealtime keeps the gateway's live meter stream open, reopening it
// after streamRetryDelay when it breaks. Samples land on a buffered
// channel consumed by consumeReadings.
func (w *worker) runRealtime(ctx context.Context) {
	defer w.c.wg.Done()

	readings := make(chan envoy.Reading, realtimeBufferSize)
	w.c.wg.Add(1)
	go w.consumeReadings(ctx, readings)

	for {
		err := w.client.StreamMeter(ctx, readings)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.c.logger.Warn("meter stream ended",
				"entry_id", w.entry.ID,
				"host", w.entry.Host,
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(streamRetryDelay):
		}
	}
}

// consumeReadings applies the realtime throttle and publishes the
// samples that pass it. A throttle of zero publishes every sample.
func (w *worker) consumeReadings(ctx context.Context, readings <-chan envoy.Reading) {
	defer w.c.wg.Done()

	throttle := w.entry.Options.ThrottleInterval()
	var last time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case r := <-readings:
			if throttle > 0 && !last.IsZero() && time.Since(last) < throttle {
				continue
			}
			last = time.Now()
			clampReading(&r, w.entry.Options)
			w.publishRealtime(r)
		}
	}
}

// realtimePayload is the JSON document published per live sample.
type realtimePayload struct {
	EntryID string        `json:"entry_id"`
	Reading envoy.Reading `json:"reading"`
}

// publishRealtime sends a live sample to MQTT and the WebSocket hub.
func (w *worker) publishRealtime(r envoy.Reading) {
	p := realtimePayload{EntryID: w.entry.ID, Reading: r}

	if w.c.publisher != nil && w.c.publisher.IsConnected() {
		body, err := json.Marshal(p)
		if err != nil {
			w.c.logger.Error("encoding realtime sample failed", "entry_id", w.entry.ID, "error", err)
			return
		}
		topic := w.c.topics.EntryRealtime(w.entry.ID)
		if err := w.c.publisher.Publish(topic, body, realtimeQoS, false); err != nil {
			w.c.logger.Warn("realtime publish failed", "entry_id", w.entry.ID, "error", err)
		}
	}

	w.c.broadcast(ChannelRealtime, p)
}
