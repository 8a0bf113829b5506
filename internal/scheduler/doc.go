// Package scheduler runs one countdown goroutine per alarm, emitting warnings
// at configured lead times and the alarm itself at the deadline.
package scheduler
