// Package clock provides a minimal wall-clock abstraction with a system
// implementation and a frozen fake for tests.
package clock
