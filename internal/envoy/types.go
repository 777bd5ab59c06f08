package envoy

import (
	"encoding/json"
	"time"
)

// Data is one snapshot of gateway measurements, assembled from however
// many catalog endpoints the fetch was allowed to hit.
type Data struct {
	// GatewaySerial is the serial reported by the info endpoint, when
	// that endpoint was fetched. May be empty.
	GatewaySerial string `json:"gateway_serial,omitempty"`

	// ProductionW is current solar production in watts.
	ProductionW float64 `json:"production_w"`

	// ConsumptionW is current total household consumption in watts.
	// Zero when the gateway has no consumption CT.
	ConsumptionW float64 `json:"consumption_w"`

	// NetConsumptionW is grid import (positive) or export (negative)
	// in watts.
	NetConsumptionW float64 `json:"net_consumption_w"`

	// LifetimeProductionWh is cumulative production in watt-hours.
	LifetimeProductionWh float64 `json:"lifetime_production_wh"`

	// LifetimeConsumptionWh is cumulative consumption in watt-hours.
	LifetimeConsumptionWh float64 `json:"lifetime_consumption_wh"`

	// DailyProductionWh is today's production in watt-hours, when the
	// gateway reports it.
	DailyProductionWh float64 `json:"daily_production_wh"`

	// Inverters lists per-panel reports when the inverters endpoint was
	// fetched.
	Inverters []Inverter `json:"inverters,omitempty"`

	// CommLevels maps inverter serial to its powerline communication
	// level (0-5), populated by the pcu_comm_check endpoint.
	CommLevels map[string]int `json:"comm_levels,omitempty"`

	// Raw holds the unparsed payload of every fetched endpoint, keyed by
	// catalog key. Consumers needing fields beyond the typed ones above
	// (the additional-metrics option) read from here.
	Raw map[string]json.RawMessage `json:"-"`

	// FetchedAt is when the snapshot was taken.
	FetchedAt time.Time `json:"fetched_at"`
}

// Inverter is one microinverter report from the inverters endpoint.
type Inverter struct {
	SerialNumber    string  `json:"serialNumber"`
	LastReportDate  int64   `json:"lastReportDate"`
	LastReportWatts float64 `json:"lastReportWatts"`
	MaxReportWatts  float64 `json:"maxReportWatts"`
}

// Reading is one live meter sample from the gateway's stream endpoint.
type Reading struct {
	Timestamp       time.Time `json:"timestamp"`
	ProductionW     float64   `json:"production_w"`
	ConsumptionW    float64   `json:"consumption_w"`
	NetConsumptionW float64   `json:"net_consumption_w"`
}
