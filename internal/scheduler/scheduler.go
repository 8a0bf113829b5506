package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/workbell/alarm-board/internal/clock"
	domain "github.com/workbell/alarm-board/internal/domain/alarm"
	"github.com/workbell/alarm-board/internal/logger"
)

// DefaultLeads is the countdown schedule used when none is configured:
// warnings at ten, five and one minute before the deadline, then the alarm
// itself at the deadline.
var DefaultLeads = []time.Duration{
	10 * time.Minute,
	5 * time.Minute,
	1 * time.Minute,
	0,
}

// Emitter delivers one notification for an alarm. The remaining duration is
// zero for the final notification at the deadline itself.
type Emitter func(ctx context.Context, a *domain.Alarm, remaining time.Duration) error

// Finisher is the cleanup path shared by completion and cancellation. It runs
// exactly once per countdown, inside the countdown goroutine, before the
// handle's Done channel closes. It does not run on process shutdown: alarms
// stay persisted for recovery.
type Finisher func(ctx context.Context, a *domain.Alarm, h *Handle)

// Handle controls one running countdown.
type Handle struct {
	// cancel is closed by Cancel to stop the countdown.
	cancel chan struct{}
	// done is closed when the countdown goroutine has exited.
	done chan struct{}

	cancelOnce sync.Once
}

// Cancel stops the countdown without emitting anything further. Safe to call
// multiple times and after completion.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() {
		close(h.cancel)
	})
}

// Done is closed once the countdown goroutine has exited, whatever the reason.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Scheduler starts countdowns. Each alarm gets its own goroutine that sleeps
// towards each lead instant in turn and emits a notification there.
type Scheduler struct {
	// clock supplies time; swapped for a fake in tests.
	clock clock.Clock
	// leads are the notification offsets before the deadline, descending,
	// always ending in zero.
	leads []time.Duration
	// emit delivers notifications.
	emit Emitter
	// onFinish runs after the final notification of a completed countdown.
	onFinish Finisher
}

// New creates a scheduler. The leads are normalized: sorted from the earliest
// warning down to the deadline, deduplicated, with the zero lead appended when
// missing so the alarm itself always fires.
func New(clk clock.Clock, leads []time.Duration, emit Emitter, onFinish Finisher) *Scheduler {
	return &Scheduler{
		clock:    clk,
		leads:    NormalizeLeads(leads),
		emit:     emit,
		onFinish: onFinish,
	}
}

// NormalizeLeads sorts the leads descending, drops duplicates and negatives,
// and guarantees a trailing zero lead.
func NormalizeLeads(leads []time.Duration) []time.Duration {
	seen := make(map[time.Duration]struct{}, len(leads))
	normalized := make([]time.Duration, 0, len(leads)+1)

	for _, lead := range leads {
		if lead < 0 {
			continue
		}

		if _, ok := seen[lead]; ok {
			continue
		}

		seen[lead] = struct{}{}
		normalized = append(normalized, lead)
	}

	if _, ok := seen[0]; !ok {
		normalized = append(normalized, 0)
	}

	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i] > normalized[j]
	})

	return normalized
}

// Leads returns the normalized countdown schedule.
func (s *Scheduler) Leads() []time.Duration {
	leads := make([]time.Duration, len(s.leads))
	copy(leads, s.leads)

	return leads
}

// NewHandle creates the handle of a countdown that has not been launched
// yet. Registering the handle before Launch closes the window where a very
// short countdown could finish before its registration exists.
func NewHandle() *Handle {
	return &Handle{
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Launch starts the countdown goroutine for the alarm under the given
// handle. Cancelling the handle stops further notifications and runs the
// finisher; awaiting Done after Cancel therefore guarantees cleanup has
// converged. Cancelling ctx (process shutdown) stops the countdown without
// the finisher.
func (s *Scheduler) Launch(ctx context.Context, a *domain.Alarm, h *Handle) {
	go s.run(ctx, a.Clone(), h)
}

// Start is Launch with a fresh handle.
func (s *Scheduler) Start(ctx context.Context, a *domain.Alarm) *Handle {
	h := NewHandle()

	s.Launch(ctx, a, h)

	return h
}

func (s *Scheduler) run(ctx context.Context, a *domain.Alarm, h *Handle) {
	defer close(h.done)

	for _, lead := range s.leads {
		wait := a.Deadline.Add(-lead).Sub(s.clock.Now())

		// A warning whose moment already passed is skipped, not delivered
		// late. The deadline itself still fires.
		if wait <= 0 && lead > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-h.cancel:
			s.finish(ctx, a, h)

			return
		case <-s.clock.After(wait):
		}

		if err := s.emit(ctx, a, lead); err != nil {
			logger.ErrorKV(ctx, "Failed to deliver alarm notification",
				"alarm", a.Key.String(),
				"remaining", lead.String(),
				"error", err)
		}
	}

	s.finish(ctx, a, h)
}

func (s *Scheduler) finish(ctx context.Context, a *domain.Alarm, h *Handle) {
	if s.onFinish != nil {
		s.onFinish(ctx, a, h)
	}
}
