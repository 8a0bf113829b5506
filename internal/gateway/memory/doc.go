// Package memory provides an in-process gateway used by tests and dry runs.
package memory
