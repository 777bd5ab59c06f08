package envoy

import (
	"sort"
	"testing"
)

func TestFormKeyRoundTrip(t *testing.T) {
	fk := FormKey("devstatus")
	if fk != "endpoint_devstatus" {
		t.Errorf("FormKey(devstatus) = %q, want endpoint_devstatus", fk)
	}

	key, ok := CatalogKey(fk)
	if !ok || key != "devstatus" {
		t.Errorf("CatalogKey(%q) = %q, %v, want devstatus, true", fk, key, ok)
	}

	if _, ok := CatalogKey("devstatus"); ok {
		t.Error("CatalogKey without prefix should report false")
	}
}

func TestOptionalKeys(t *testing.T) {
	keys := OptionalKeys()

	if !sort.StringsAreSorted(keys) {
		t.Error("OptionalKeys() should be sorted")
	}

	for _, key := range keys {
		ep, ok := Endpoints[key]
		if !ok {
			t.Errorf("OptionalKeys() returned unknown key %q", key)
			continue
		}
		if !ep.Optional {
			t.Errorf("OptionalKeys() returned non-optional key %q", key)
		}
	}

	// Required endpoints must never show up
	for _, required := range []string{"info", "production_json", "production_v1"} {
		for _, key := range keys {
			if key == required {
				t.Errorf("OptionalKeys() included required endpoint %q", required)
			}
		}
	}
}

func TestOptionalFormKeys(t *testing.T) {
	m := OptionalFormKeys()

	if label, ok := m["endpoint_inverters"]; !ok || label != "inverters" {
		t.Errorf("OptionalFormKeys()[endpoint_inverters] = %q, %v, want inverters, true", label, ok)
	}

	if _, ok := m["endpoint_production_json"]; ok {
		t.Error("OptionalFormKeys() should not include required endpoints")
	}
}

func TestFilterKnown(t *testing.T) {
	got := FilterKnown([]string{
		"endpoint_inverters",
		"endpoint_retired_endpoint",
		"inverters", // missing prefix
		"endpoint_devstatus",
	})

	want := []string{"endpoint_inverters", "endpoint_devstatus"}
	if len(got) != len(want) {
		t.Fatalf("FilterKnown() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FilterKnown()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDisabledSet(t *testing.T) {
	set := DisabledSet([]string{
		"endpoint_inverters",
		"endpoint_home_json",
		"endpoint_unknown_key",
		"endpoint_production_json", // required, not disableable
		"no_prefix",
	})

	if !set["inverters"] || !set["home_json"] {
		t.Errorf("DisabledSet missing expected keys: %v", set)
	}
	if set["unknown_key"] {
		t.Error("DisabledSet should drop unknown endpoints")
	}
	if set["production_json"] {
		t.Error("DisabledSet should drop required endpoints")
	}
	if len(set) != 2 {
		t.Errorf("DisabledSet size = %d, want 2 (%v)", len(set), set)
	}
}
