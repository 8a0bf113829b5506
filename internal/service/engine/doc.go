// Package engine wires the alarm registry, the countdown scheduler, the
// board reconcilers and the snapshot store into one consistent whole and
// exposes the user-facing operations on them.
package engine
