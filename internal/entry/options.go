package entry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Option bounds enforced by the options editor.
const (
	MinScanInterval     = 5
	MinGetDataTimeout   = 30
	MinRealtimeThrottle = 0
)

// Option defaults applied when a stored snapshot omits a key. A fresh
// entry starts with an empty snapshot and inherits all of these.
const (
	DefaultScanInterval     = 60
	DefaultGetDataTimeout   = 60
	DefaultRealtimeThrottle = 10
)

// Options is the tuning snapshot for one entry. The JSON keys are the
// stored option names; snapshots written before a key existed simply
// omit it, so decoding must start from DefaultOptions.
type Options struct {
	// ScanInterval is the polling interval in seconds, minimum 5.
	ScanInterval int `json:"time_between_update"`

	// GetDataTimeout is the per-cycle fetch timeout in seconds, minimum 30.
	GetDataTimeout int `json:"getdata_timeout"`

	// DisableNegativeProduction clamps reported production at zero.
	// Some meters read a small negative draw at night.
	DisableNegativeProduction bool `json:"disable_negative_production"`

	// EnableRealtimeUpdates turns on the meter stream between polls.
	EnableRealtimeUpdates bool `json:"enable_realtime_updates"`

	// RealtimeThrottle is the minimum gap between stream-driven updates
	// in seconds. Zero publishes every event.
	RealtimeThrottle int `json:"realtime_update_throttle"`

	// EnableAdditionalMetrics fetches the extended meter endpoints.
	EnableAdditionalMetrics bool `json:"enable_additional_metrics"`

	// EnableCommCheck polls the installer communication check endpoint.
	EnableCommCheck bool `json:"enable_pcu_comm_check"`

	// DevstatusDeviceData sources per-device data from the installer
	// devstatus endpoint instead of the owner endpoints.
	DevstatusDeviceData bool `json:"devstatus_device_data"`

	// LifetimeCorrection is added to the lifetime production total in
	// watt hours. Used after a meter replacement resets the counter.
	LifetimeCorrection int `json:"lifetime_production_correction"`

	// DisabledEndpoints lists optional endpoint form keys the user has
	// switched off, in the stored "endpoint_<key>" form.
	DisabledEndpoints []string `json:"disabled_endpoints"`
}

// DefaultOptions returns the snapshot a fresh entry starts with.
func DefaultOptions() Options {
	return Options{
		ScanInterval:     DefaultScanInterval,
		GetDataTimeout:   DefaultGetDataTimeout,
		RealtimeThrottle: DefaultRealtimeThrottle,
	}
}

// Clone returns an independent copy of the options.
func (o Options) Clone() Options {
	cpy := o
	if o.DisabledEndpoints != nil {
		cpy.DisabledEndpoints = make([]string, len(o.DisabledEndpoints))
		copy(cpy.DisabledEndpoints, o.DisabledEndpoints)
	}
	return cpy
}

// OptionsFromJSON decodes a stored snapshot. Keys absent from the JSON
// keep their defaults, so an empty or "{}" column yields DefaultOptions.
func OptionsFromJSON(data []byte) (Options, error) {
	o := DefaultOptions()
	if len(data) == 0 {
		return o, nil
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return Options{}, fmt.Errorf("unmarshalling options: %w", err)
	}
	return o, nil
}

// ValidateOptions checks the editor's bounds. Values below a minimum are
// rejected rather than clamped so the caller can re-present the form.
func ValidateOptions(o Options) error {
	if o.ScanInterval < MinScanInterval {
		return fmt.Errorf("%w: time_between_update must be at least %d seconds", ErrInvalidOptions, MinScanInterval)
	}
	if o.GetDataTimeout < MinGetDataTimeout {
		return fmt.Errorf("%w: getdata_timeout must be at least %d seconds", ErrInvalidOptions, MinGetDataTimeout)
	}
	if o.RealtimeThrottle < MinRealtimeThrottle {
		return fmt.Errorf("%w: realtime_update_throttle cannot be negative", ErrInvalidOptions)
	}
	return nil
}

// PollInterval returns the polling interval as a duration. Stored values
// below the minimum (from before validation existed) are floored, never
// trusted.
func (o Options) PollInterval() time.Duration {
	secs := o.ScanInterval
	if secs < MinScanInterval {
		secs = MinScanInterval
	}
	return time.Duration(secs) * time.Second
}

// FetchTimeout returns the per-cycle fetch timeout as a duration, floored
// at the minimum.
func (o Options) FetchTimeout() time.Duration {
	secs := o.GetDataTimeout
	if secs < MinGetDataTimeout {
		secs = MinGetDataTimeout
	}
	return time.Duration(secs) * time.Second
}

// ThrottleInterval returns the minimum gap between realtime updates.
func (o Options) ThrottleInterval() time.Duration {
	secs := o.RealtimeThrottle
	if secs < MinRealtimeThrottle {
		secs = MinRealtimeThrottle
	}
	return time.Duration(secs) * time.Second
}
