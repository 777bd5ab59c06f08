package mqtt

import "fmt"

// Topic prefixes for the Heliograph MQTT hierarchy.
//
// Entry topics use the scheme: heliograph/entry/{entry_id}/{channel}
// where channel is one of reading, realtime, state.
const (
	// TopicPrefix is the base for all Heliograph topics.
	TopicPrefix = "heliograph"

	// TopicPrefixEntry is the base for per-entry topics.
	TopicPrefixEntry = "heliograph/entry"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "heliograph/system"
)

// Topics provides builders for Heliograph MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	readingTopic := topics.EntryReading("ent-4f9a01bc")
//	// Returns: "heliograph/entry/ent-4f9a01bc/reading"
type Topics struct{}

// EntryReading returns the topic carrying poll snapshots for an entry.
// One JSON document per poll cycle, not retained.
//
// Example: heliograph/entry/ent-4f9a01bc/reading
func (Topics) EntryReading(entryID string) string {
	return fmt.Sprintf("%s/%s/reading", TopicPrefixEntry, entryID)
}

// EntryRealtime returns the topic carrying throttled live meter samples
// for an entry. Only published while realtime updates are enabled.
//
// Example: heliograph/entry/ent-4f9a01bc/realtime
func (Topics) EntryRealtime(entryID string) string {
	return fmt.Sprintf("%s/%s/realtime", TopicPrefixEntry, entryID)
}

// EntryState returns the retained availability topic for an entry.
// Carries online/offline so late subscribers see the current state.
//
// Example: heliograph/entry/ent-4f9a01bc/state
func (Topics) EntryState(entryID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixEntry, entryID)
}

// SystemStatus returns the service status topic. The LWT is registered
// here so subscribers can tell a crash from a graceful shutdown.
//
// Example: heliograph/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllEntryReadings returns a pattern matching every entry's reading topic.
//
// Pattern: heliograph/entry/+/reading
func (Topics) AllEntryReadings() string {
	return fmt.Sprintf("%s/+/reading", TopicPrefixEntry)
}

// AllEntryRealtime returns a pattern matching every entry's realtime topic.
//
// Pattern: heliograph/entry/+/realtime
func (Topics) AllEntryRealtime() string {
	return fmt.Sprintf("%s/+/realtime", TopicPrefixEntry)
}

// AllEntryStates returns a pattern matching every entry's availability topic.
//
// Pattern: heliograph/entry/+/state
func (Topics) AllEntryStates() string {
	return fmt.Sprintf("%s/+/state", TopicPrefixEntry)
}

// AllTopics returns a pattern matching all Heliograph topics. Debug
// use only; a subscriber here receives every message the service emits.
//
// Pattern: heliograph/#
func (Topics) AllTopics() string {
	return "heliograph/#"
}
