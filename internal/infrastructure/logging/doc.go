// Package logging is the single logging entry point for Heliograph.
//
// It is a thin layer over log/slog: one constructor that reads the
// logging section of the config file, a child-logger helper for
// component tags, and a Default logger for the moments before config
// exists. Components receive a *Logger and never construct handlers
// themselves, so output format and level stay consistent across the
// process.
//
// Two behaviours are Heliograph-specific:
//
//   - every record carries service and version attributes, so a fleet
//     of instances can share one log pipeline
//   - attribute values for credential-shaped keys (password, token,
//     secret, api_key) are replaced with "[redacted]" inside the
//     handler, because entry records hold Enlighten passwords and the
//     poll path holds Envoy session tokens
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
package logging
