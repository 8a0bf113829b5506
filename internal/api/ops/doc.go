// Package ops serves the read-only introspection HTTP endpoints: a health
// probe, the list of destinations holding alarms and the pending alarms at
// a destination. The surface is optional and is only started when a listen
// address is configured.
package ops
