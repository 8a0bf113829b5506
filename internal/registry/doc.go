// Package registry indexes the alarms currently scheduled in memory and
// notifies the dashboard layer about every change.
package registry
