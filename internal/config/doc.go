// Package config loads realtime-fabric configuration from environment
// variables, with defaults for every key in spec.md §6 (websocket.*,
// events.*, progressive_feedback.*, recovery.*, optimization.*).
//
// Call Load() once at process startup and pass the resulting *AppConfig
// down to component constructors; call Validate() before wiring anything
// up so misconfiguration fails fast.
package config
