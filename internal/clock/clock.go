package clock

import "time"

// Clock abstracts wall-clock access so deadline arithmetic can be tested
// against a frozen time.
type Clock interface {
	// Now returns the current instant in UTC.
	Now() time.Time
	// After waits for the duration to elapse and then delivers the current
	// time on the returned channel, like time.After.
	After(d time.Duration) <-chan time.Time
}

// System is the real clock backed by the time package.
type System struct{}

// Now returns the current UTC instant.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// After defers to time.After.
func (System) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Fake is a frozen clock for tests. It only answers Now; waiting components
// are tested with the system clock and short durations instead.
type Fake struct {
	// now is the frozen instant returned by Now.
	now time.Time
}

// NewFake returns a fake clock frozen at the given instant.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t.UTC()}
}

// Now returns the frozen instant.
func (f *Fake) Now() time.Time {
	return f.now
}

// Advance moves the frozen instant forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// After fires immediately regardless of the requested duration, so timer
// logic driven by a fake clock never blocks a test.
func (f *Fake) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- f.now

	return ch
}
