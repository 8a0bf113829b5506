// Package store persists the scheduler snapshot (tenants and pending alarms)
// to a JSON file on disk.
package store
