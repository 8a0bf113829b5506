// Package gateway defines the messaging boundary the engine consumes:
// resolving destinations, publishing/updating/retracting aggregate views and
// posting warning messages, with typed not-found and transient-failure
// errors so callers take explicit fallback branches instead of ignoring
// failures wholesale.
//
// Subpackages provide the concrete adapters: rest talks to a messaging
// gateway service over HTTP, memory is an in-process implementation for
// tests and dry runs.
package gateway
