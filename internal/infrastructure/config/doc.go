// Package config loads the Heliograph YAML configuration.
//
// Load layers three sources, later ones winning: built-in defaults, the
// file, then HELIOGRAPH_* environment variables. Only secrets and host
// bindings have environment overrides; structural settings belong in
// the file. Validation runs last and reports every problem in one
// error.
//
// The zero-effort path works: an empty file yields a config that polls
// nothing but serves the API on :8087 with discovery running, which is
// enough to add the first gateway through the setup flow.
package config
