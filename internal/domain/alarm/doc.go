// Package alarm contains the core domain types of the scheduling engine.
//
// It defines the Alarm entity and its composite Key, the Tenant configuration
// scope (audience allow-list, channel routes, clock offset), the Actor that
// invokes operations, and the deadline resolution rule that turns a
// user-entered clock time into the canonical UTC instant of its next
// occurrence. Everything downstream (registry, timers, dashboards, store)
// works exclusively with these types and with UTC instants.
package alarm
