// Package discovery watches the local network for Envoy gateways.
//
// Envoys announce themselves over mDNS as _enphase-envoy._tcp with
// their serial number in the serialnum TXT property. The Browser runs
// a zeroconf browse, turns each answer into a DiscoveryEvent (serial
// plus first address) and hands it to the flow manager, which decides
// whether the gateway is new, known, or a host move.
//
// The browse runs until its context is cancelled and restarts with a
// fixed delay when it fails, so a flaky interface does not end
// discovery for the life of the process.
package discovery
