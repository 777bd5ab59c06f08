package flow

import (
	"net/netip"

	"github.com/rowanvale/heliograph/internal/entry"
)

// DiscoveryEvent is one mDNS answer from an Envoy on the local network:
// the serialnum TXT property plus the address the gateway answered from.
type DiscoveryEvent struct {
	Serial string `json:"serial"`
	Host   string `json:"host"`
}

// ReconcileOutcome classifies a discovery event against the configured
// entries.
type ReconcileOutcome int

const (
	// ReconcileNew means no entry matched; setup proceeds to the user
	// form with the discovered address locked in.
	ReconcileNew ReconcileOutcome = iota

	// ReconcileKnownSerial means an entry already carries the serial.
	// The flow aborts; the stored host may need refreshing first.
	ReconcileKnownSerial

	// ReconcileAdoptSerial means an entry configured without a serial
	// has the discovered host. The entry adopts the serial and the flow
	// aborts.
	ReconcileAdoptSerial
)

// Reconciliation is the verdict of Reconcile: which entry matched (a
// copy, never shared state) and what mutation, if any, to apply before
// aborting.
type Reconciliation struct {
	Outcome ReconcileOutcome

	// Entry is the matched entry for KnownSerial and AdoptSerial.
	Entry *entry.Entry

	// UpdateHost is set for KnownSerial when the stored host differs
	// from the discovered one and both are the same IP family. The
	// entry then needs its host refreshed and a reload.
	UpdateHost bool

	// Title is the retitle to apply for AdoptSerial.
	Title string
}

// Reconcile matches a discovery event against the configured entries.
// It is pure: callers apply the verdict through the entry store.
//
// Serial matches win over host matches, and a serial match never falls
// through to host adoption. An entry whose host is a DNS name is never
// host-refreshed by discovery; only literal addresses of the same
// family replace each other.
func Reconcile(entries []entry.Entry, ev DiscoveryEvent) Reconciliation {
	for i := range entries {
		e := &entries[i]
		if e.HasUniqueID() && *e.UniqueID == ev.Serial {
			return Reconciliation{
				Outcome:    ReconcileKnownSerial,
				Entry:      e.Clone(),
				UpdateHost: e.Host != ev.Host && sameIPFamily(e.Host, ev.Host),
			}
		}
	}

	for i := range entries {
		e := &entries[i]
		if !e.HasUniqueID() && e.Host == ev.Host {
			return Reconciliation{
				Outcome: ReconcileAdoptSerial,
				Entry:   e.Clone(),
				Title:   titleForSerial(e.Title, ev.Serial),
			}
		}
	}

	return Reconciliation{Outcome: ReconcileNew}
}

// sameIPFamily reports whether both hosts are literal IP addresses of
// the same family. Hostnames never match, and an IPv4-mapped IPv6
// literal counts as IPv6, so a discovered v6 address cannot overwrite a
// stored v4 one or vice versa.
func sameIPFamily(a, b string) bool {
	addrA, errA := netip.ParseAddr(a)
	addrB, errB := netip.ParseAddr(b)
	if errA != nil || errB != nil {
		return false
	}
	return addrA.Is4() == addrB.Is4()
}

// defaultTitle names entries whose serial is unknown.
const defaultTitle = "Envoy"

// titleForSerial retitles an entry that just adopted a serial. Only the
// stock title is upgraded; a custom title is reset to the stock one
// rather than clobbered with a serial suffix.
func titleForSerial(current, serial string) string {
	if current == defaultTitle {
		return defaultTitle + " " + serial
	}
	return defaultTitle
}

// envoyName builds the display name recorded at entry creation:
// "Envoy {serial}" once the serial is known, plain "Envoy" otherwise.
func envoyName(uniqueID string) string {
	if uniqueID != "" {
		return defaultTitle + " " + uniqueID
	}
	return defaultTitle
}
