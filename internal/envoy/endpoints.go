package envoy

import (
	"sort"
	"strings"
	"time"
)

// Endpoint describes one local API path on the gateway.
type Endpoint struct {
	// Path is the URL path, rooted at https://{host}.
	Path string

	// CacheTTL is how long a fetched payload stays fresh. Zero means
	// fetch on every poll.
	CacheTTL time.Duration

	// InstallerRequired marks endpoints that need installer-level access
	// on the gateway. They are only fetched when a matching option toggle
	// asks for them.
	InstallerRequired bool

	// Optional endpoints may be disabled per entry. Required endpoints
	// are always polled.
	Optional bool
}

// Endpoints is the fixed catalog of local API paths the client knows.
// Keys are the catalog names used throughout options records and topics.
var Endpoints = map[string]Endpoint{
	"info":               {Path: "/info", CacheTTL: 24 * time.Hour},
	"production_json":    {Path: "/production.json?details=1"},
	"production_v1":      {Path: "/api/v1/production"},
	"inverters":          {Path: "/api/v1/production/inverters", Optional: true},
	"inventory":          {Path: "/inventory.json", CacheTTL: 5 * time.Minute, Optional: true},
	"home_json":          {Path: "/home.json", CacheTTL: 5 * time.Minute, Optional: true},
	"meters":             {Path: "/ivp/meters", CacheTTL: 24 * time.Hour, Optional: true},
	"meters_readings":    {Path: "/ivp/meters/readings", Optional: true},
	"ensemble_inventory": {Path: "/ivp/ensemble/inventory", Optional: true},
	"ensemble_power":     {Path: "/ivp/ensemble/power", Optional: true},
	"ensemble_secctrl":   {Path: "/ivp/ensemble/secctrl", Optional: true},
	"devstatus":          {Path: "/ivp/peb/devstatus", InstallerRequired: true, Optional: true},
	"pdm_energy":         {Path: "/ivp/pdm/energy", InstallerRequired: true, Optional: true},
	"pcu_comm_check":     {Path: "/installer/pcu_comm_check", InstallerRequired: true, Optional: true},
	"production_power":   {Path: "/ivp/mod/603980032/mode/power", InstallerRequired: true, Optional: true},
}

// FormKeyPrefix namespaces endpoint keys when they appear as multi-select
// values in the options form.
const FormKeyPrefix = "endpoint_"

// FormKey returns the options-form value for a catalog key.
func FormKey(key string) string {
	return FormKeyPrefix + key
}

// CatalogKey returns the catalog key for an options-form value, and whether
// the value carried the expected prefix.
func CatalogKey(formKey string) (string, bool) {
	if !strings.HasPrefix(formKey, FormKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(formKey, FormKeyPrefix), true
}

// OptionalKeys returns the catalog keys of all optional endpoints in a
// stable order.
func OptionalKeys() []string {
	keys := make([]string, 0, len(Endpoints))
	for key, ep := range Endpoints {
		if ep.Optional {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// OptionalFormKeys returns form value -> display label for every optional
// endpoint. Labels are the raw catalog keys, matching what installers see
// in gateway documentation.
func OptionalFormKeys() map[string]string {
	out := make(map[string]string)
	for key, ep := range Endpoints {
		if ep.Optional {
			out[FormKey(key)] = key
		}
	}
	return out
}

// FilterKnown keeps only values that name an optional endpoint in the
// catalog, preserving input order. Stored selections can reference
// endpoints that later firmware removed; those are dropped silently.
func FilterKnown(formKeys []string) []string {
	known := OptionalFormKeys()
	out := make([]string, 0, len(formKeys))
	for _, fk := range formKeys {
		if _, ok := known[fk]; ok {
			out = append(out, fk)
		}
	}
	return out
}

// DisabledSet expands a stored disabled_endpoints selection into a set of
// catalog keys for the poll loop to skip. Unknown values are ignored.
func DisabledSet(formKeys []string) map[string]bool {
	out := make(map[string]bool)
	for _, fk := range formKeys {
		if key, ok := CatalogKey(fk); ok {
			if ep, exists := Endpoints[key]; exists && ep.Optional {
				out[key] = true
			}
		}
	}
	return out
}
