// Package entry manages configured Envoy gateways.
//
// An Entry holds everything needed to poll one gateway: the host on the
// local network, the Enlighten credentials used for token acquisition,
// and the options snapshot that tunes polling behaviour. Entries are
// persisted in SQLite through the Repository interface and served to the
// rest of the system through the cached Store.
//
// The unique id is the gateway serial number. It deduplicates setup
// flows and discovery events: at most one entry may carry a given serial.
// Entries created before the serial is known carry no unique id until a
// discovery event or reauth attaches one.
//
// Store mutations emit Events so the polling layer can start, restart or
// stop workers without watching the database.
package entry
