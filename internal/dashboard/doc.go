// Package dashboard renders the per-destination alarm board and runs the
// reconcilers that keep published boards in sync with the registry.
package dashboard
