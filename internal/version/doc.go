// Package version exposes build metadata for the alarm board binary.
//
// Version, Commit and BuildTime are injected via ldflags and default to
// sensible values for local builds. Short and Full render the version
// string for CLI output and logs.
package version
