// Package config defines the settings used by the alarm board service and
// provides helpers to load, validate and save them in YAML format.
//
// The Config type holds the snapshot file path, the messaging gateway
// selection, the dashboard refresh interval, the warning lead times and the
// optional introspection listen address. Validate fills in defaults, so a
// loaded config is ready to use.
package config
