package flow

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/rowanvale/heliograph/internal/entry"
	"github.com/rowanvale/heliograph/internal/envoy"
)

// FieldType enumerates the input kinds a form field accepts.
type FieldType string

// Field types understood by schema coercion.
const (
	FieldString      FieldType = "string"
	FieldInt         FieldType = "int"
	FieldBool        FieldType = "bool"
	FieldSelect      FieldType = "select"
	FieldMultiSelect FieldType = "multi_select"
)

// Setup form field names.
const (
	KeyHost     = "host"
	KeySerial   = "serial"
	KeyUsername = "username"
	KeyPassword = "password"
)

// Options form field names. These match the stored JSON keys so a
// submitted form persists without renaming.
const (
	KeyScanInterval       = "time_between_update"
	KeyGetDataTimeout     = "getdata_timeout"
	KeyDisableNegative    = "disable_negative_production"
	KeyRealtimeUpdates    = "enable_realtime_updates"
	KeyRealtimeThrottle   = "realtime_update_throttle"
	KeyAdditionalMetrics  = "enable_additional_metrics"
	KeyCommCheck          = "enable_pcu_comm_check"
	KeyDevstatus          = "devstatus_device_data"
	KeyLifetimeCorrection = "lifetime_production_correction"
	KeyDisabledEndpoints  = "disabled_endpoints"
)

// Option is one selectable value of a select or multi_select field.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Field describes one input of a form.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`

	// Default pre-fills the form and substitutes for missing input.
	// Null means no default, which makes a required field mandatory.
	Default any `json:"default"`

	// Min bounds int fields. Values below it are rejected, not clamped.
	Min *int `json:"min,omitempty"`

	// Options lists the permitted values of select and multi_select
	// fields. A select with a single option renders as a locked field.
	Options []Option `json:"options,omitempty"`

	// Suggested pre-selects values without making them the default.
	Suggested any `json:"suggested,omitempty"`
}

// Schema is an ordered list of form fields. It is served to clients as
// JSON and applied server-side to coerce submitted input.
type Schema struct {
	Fields []Field `json:"fields"`
}

// Apply coerces raw input against the schema. Missing keys take the
// field default; required fields without a default must be present.
// Wrong types, ints below their minimum and unknown select values
// return ErrInvalidInput naming the field. Keys the schema does not
// define are dropped.
func (s *Schema) Apply(input map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]

		raw, ok := input[f.Name]
		if !ok || raw == nil {
			if f.Default != nil {
				out[f.Name] = f.Default
				continue
			}
			if f.Required {
				return nil, fmt.Errorf("%w: %s is required", ErrInvalidInput, f.Name)
			}
			continue
		}

		val, err := f.coerce(raw)
		if err != nil {
			return nil, err
		}
		out[f.Name] = val
	}
	return out, nil
}

func (f *Field) coerce(raw any) (any, error) {
	switch f.Type {
	case FieldString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidInput, f.Name)
		}
		return s, nil

	case FieldInt:
		n, err := intValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidInput, f.Name)
		}
		if f.Min != nil && n < *f.Min {
			return nil, fmt.Errorf("%w: %s must be at least %d", ErrInvalidInput, f.Name, *f.Min)
		}
		return n, nil

	case FieldBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a boolean", ErrInvalidInput, f.Name)
		}
		return b, nil

	case FieldSelect:
		s, ok := raw.(string)
		if !ok || !f.allows(s) {
			return nil, fmt.Errorf("%w: %s must be one of the offered values", ErrInvalidInput, f.Name)
		}
		return s, nil

	case FieldMultiSelect:
		vals, err := stringSlice(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be a list of strings", ErrInvalidInput, f.Name)
		}
		for _, v := range vals {
			if !f.allows(v) {
				return nil, fmt.Errorf("%w: %s contains unknown value %q", ErrInvalidInput, f.Name, v)
			}
		}
		return vals, nil
	}

	return nil, fmt.Errorf("%w: %s has unsupported type %q", ErrInvalidInput, f.Name, f.Type)
}

func (f *Field) allows(value string) bool {
	for _, opt := range f.Options {
		if opt.Value == value {
			return true
		}
	}
	return false
}

// intValue accepts the numeric shapes JSON decoding and Go callers
// produce. Numeric strings are coerced the way browser form posts
// deliver them.
func intValue(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		n := int(v)
		if float64(n) != v {
			return 0, fmt.Errorf("fractional value %v", v)
		}
		return n, nil
	case string:
		return strconv.Atoi(v)
	}
	return 0, fmt.Errorf("unsupported type %T", raw)
}

func stringSlice(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element of type %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported type %T", raw)
}

// SetupSchemaParams seeds the user-form schema.
type SetupSchemaParams struct {
	// DiscoveredHost locks the host field to this single value when set.
	DiscoveredHost string

	// Host pre-fills a free-text host field. Ignored when
	// DiscoveredHost is set.
	Host string

	// Serial and Username pre-fill their fields, carrying values the
	// user already entered across a redisplay.
	Serial   string
	Username string
}

// SetupSchema builds the user-form schema. After discovery the host is
// pinned to the discovered address via a single-option select; a
// user-initiated flow gets a free-text host instead. The password is
// never echoed back.
func SetupSchema(p SetupSchemaParams) *Schema {
	fields := make([]Field, 0, 4)

	if p.DiscoveredHost != "" {
		fields = append(fields, Field{
			Name:     KeyHost,
			Type:     FieldSelect,
			Required: true,
			Default:  p.DiscoveredHost,
			Options:  []Option{{Value: p.DiscoveredHost, Label: p.DiscoveredHost}},
		})
	} else {
		var hostDefault any
		if p.Host != "" {
			hostDefault = p.Host
		}
		fields = append(fields, Field{
			Name:     KeyHost,
			Type:     FieldString,
			Required: true,
			Default:  hostDefault,
		})
	}

	var usernameDefault any
	if p.Username != "" {
		usernameDefault = p.Username
	}

	fields = append(fields,
		Field{Name: KeySerial, Type: FieldString, Required: true, Default: p.Serial},
		Field{Name: KeyUsername, Type: FieldString, Required: true, Default: usernameDefault},
		Field{Name: KeyPassword, Type: FieldString, Required: true, Default: ""},
	)

	return &Schema{Fields: fields}
}

// OptionsSchema builds the options-editor schema seeded from a stored
// snapshot. The endpoint multi-select offers every optional catalog
// endpoint, suggesting the stored selection minus values the catalog no
// longer knows.
func OptionsSchema(opts entry.Options) *Schema {
	minScan := entry.MinScanInterval
	minTimeout := entry.MinGetDataTimeout
	minThrottle := entry.MinRealtimeThrottle

	return &Schema{Fields: []Field{
		{Name: KeyScanInterval, Type: FieldInt, Default: opts.ScanInterval, Min: &minScan},
		{Name: KeyGetDataTimeout, Type: FieldInt, Default: opts.GetDataTimeout, Min: &minTimeout},
		{Name: KeyDisableNegative, Type: FieldBool, Default: opts.DisableNegativeProduction},
		{Name: KeyRealtimeUpdates, Type: FieldBool, Default: opts.EnableRealtimeUpdates},
		{Name: KeyRealtimeThrottle, Type: FieldInt, Default: opts.RealtimeThrottle, Min: &minThrottle},
		{Name: KeyAdditionalMetrics, Type: FieldBool, Default: opts.EnableAdditionalMetrics},
		{Name: KeyCommCheck, Type: FieldBool, Default: opts.EnableCommCheck},
		{Name: KeyDevstatus, Type: FieldBool, Default: opts.DevstatusDeviceData},
		{Name: KeyLifetimeCorrection, Type: FieldInt, Default: opts.LifetimeCorrection},
		{
			Name:      KeyDisabledEndpoints,
			Type:      FieldMultiSelect,
			Options:   endpointSelectOptions(),
			Suggested: envoy.FilterKnown(opts.DisabledEndpoints),
		},
	}}
}

// endpointSelectOptions lists the optional endpoints as multi-select
// options, labelled with their raw catalog keys in stable order.
func endpointSelectOptions() []Option {
	known := envoy.OptionalFormKeys()
	opts := make([]Option, 0, len(known))
	for value, label := range known {
		opts = append(opts, Option{Value: value, Label: label})
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Label < opts[j].Label })
	return opts
}

// OptionsFromInput assembles the record the options flow persists from
// coerced form input. Apply has already typed and bounds-checked every
// value, so missing keys simply keep their zero values.
func OptionsFromInput(values map[string]any) entry.Options {
	return entry.Options{
		ScanInterval:              intAt(values, KeyScanInterval),
		GetDataTimeout:            intAt(values, KeyGetDataTimeout),
		DisableNegativeProduction: boolAt(values, KeyDisableNegative),
		EnableRealtimeUpdates:     boolAt(values, KeyRealtimeUpdates),
		RealtimeThrottle:          intAt(values, KeyRealtimeThrottle),
		EnableAdditionalMetrics:   boolAt(values, KeyAdditionalMetrics),
		EnableCommCheck:           boolAt(values, KeyCommCheck),
		DevstatusDeviceData:       boolAt(values, KeyDevstatus),
		LifetimeCorrection:        intAt(values, KeyLifetimeCorrection),
		DisabledEndpoints:         stringsAt(values, KeyDisabledEndpoints),
	}
}

// Typed accessors over an Apply result. Apply guarantees the dynamic
// types, so a failed assertion yields the zero value.

func stringAt(values map[string]any, key string) string {
	s, _ := values[key].(string)
	return s
}

func intAt(values map[string]any, key string) int {
	n, _ := values[key].(int)
	return n
}

func boolAt(values map[string]any, key string) bool {
	b, _ := values[key].(bool)
	return b
}

func stringsAt(values map[string]any, key string) []string {
	s, _ := values[key].([]string)
	return s
}
