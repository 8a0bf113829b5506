package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/workbell/alarm-board/internal/clock"
	domain "github.com/workbell/alarm-board/internal/domain/alarm"
)

// emissionLog collects emitted leads in order.
type emissionLog struct {
	mu    sync.Mutex
	leads []time.Duration
}

func (l *emissionLog) add(lead time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.leads = append(l.leads, lead)
}

func (l *emissionLog) snapshot() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	leads := make([]time.Duration, len(l.leads))
	copy(leads, l.leads)

	return leads
}

func countdownAlarm(deadline time.Time) *domain.Alarm {
	return &domain.Alarm{
		Key: domain.Key{
			DestinationID: "dest-1",
			OwnerID:       "owner-1",
			Label:         "18:00",
		},
		TenantID: "guild-1",
		Name:     "drill",
		Deadline: deadline,
	}
}

func TestNormalizeLeads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []time.Duration
		want []time.Duration
	}{
		{
			name: "already normalized",
			in:   []time.Duration{10 * time.Minute, 5 * time.Minute, 0},
			want: []time.Duration{10 * time.Minute, 5 * time.Minute, 0},
		},
		{
			name: "unsorted with duplicates",
			in:   []time.Duration{time.Minute, 10 * time.Minute, time.Minute},
			want: []time.Duration{10 * time.Minute, time.Minute, 0},
		},
		{
			name: "missing zero gets appended",
			in:   []time.Duration{5 * time.Minute},
			want: []time.Duration{5 * time.Minute, 0},
		},
		{
			name: "negatives dropped",
			in:   []time.Duration{-time.Minute, time.Minute},
			want: []time.Duration{time.Minute, 0},
		},
		{
			name: "empty becomes deadline only",
			in:   nil,
			want: []time.Duration{0},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, NormalizeLeads(tt.in))
		})
	}
}

func TestCountdownEmitsLeadsInOrderThenFinishes(t *testing.T) {
	t.Parallel()

	log := &emissionLog{}
	finished := make(chan struct{})

	s := New(clock.System{},
		[]time.Duration{40 * time.Millisecond, 20 * time.Millisecond, 0},
		func(_ context.Context, _ *domain.Alarm, remaining time.Duration) error {
			log.add(remaining)

			return nil
		},
		func(_ context.Context, _ *domain.Alarm, _ *Handle) {
			close(finished)
		})

	h := s.Start(context.Background(), countdownAlarm(time.Now().UTC().Add(80*time.Millisecond)))

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not finish")
	}

	<-h.Done()
	require.Equal(t, []time.Duration{40 * time.Millisecond, 20 * time.Millisecond, 0}, log.snapshot())
}

func TestCountdownSkipsElapsedLeads(t *testing.T) {
	t.Parallel()

	log := &emissionLog{}
	finished := make(chan struct{})

	s := New(clock.System{},
		[]time.Duration{10 * time.Minute, 5 * time.Minute, 20 * time.Millisecond, 0},
		func(_ context.Context, _ *domain.Alarm, remaining time.Duration) error {
			log.add(remaining)

			return nil
		},
		func(_ context.Context, _ *domain.Alarm, _ *Handle) {
			close(finished)
		})

	s.Start(context.Background(), countdownAlarm(time.Now().UTC().Add(60*time.Millisecond)))

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not finish")
	}

	require.Equal(t, []time.Duration{20 * time.Millisecond, 0}, log.snapshot())
}

func TestCancelSkipsWarningsButRunsCleanup(t *testing.T) {
	t.Parallel()

	log := &emissionLog{}

	var finisherRuns int

	s := New(clock.System{},
		[]time.Duration{0},
		func(_ context.Context, _ *domain.Alarm, remaining time.Duration) error {
			log.add(remaining)

			return nil
		},
		func(_ context.Context, _ *domain.Alarm, _ *Handle) {
			finisherRuns++
		})

	h := s.Start(context.Background(), countdownAlarm(time.Now().UTC().Add(time.Hour)))

	h.Cancel()
	h.Cancel() // safe to repeat

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not stop after cancel")
	}

	// Done closing means the cleanup already converged, exactly once.
	require.Equal(t, 1, finisherRuns)
	require.Empty(t, log.snapshot())
}

func TestShutdownStopsWithoutCleanup(t *testing.T) {
	t.Parallel()

	var finisherRan bool

	s := New(clock.System{},
		[]time.Duration{0},
		func(_ context.Context, _ *domain.Alarm, _ time.Duration) error {
			return nil
		},
		func(_ context.Context, _ *domain.Alarm, _ *Handle) {
			finisherRan = true
		})

	ctx, cancel := context.WithCancel(context.Background())
	h := s.Start(ctx, countdownAlarm(time.Now().UTC().Add(time.Hour)))

	cancel()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not stop after shutdown")
	}

	require.False(t, finisherRan)
}

func TestEmitFailureDoesNotAbortCountdown(t *testing.T) {
	t.Parallel()

	log := &emissionLog{}
	finished := make(chan struct{})

	s := New(clock.System{},
		[]time.Duration{20 * time.Millisecond, 0},
		func(_ context.Context, _ *domain.Alarm, remaining time.Duration) error {
			log.add(remaining)

			if remaining > 0 {
				return errors.New("gateway down")
			}

			return nil
		},
		func(_ context.Context, _ *domain.Alarm, _ *Handle) {
			close(finished)
		})

	s.Start(context.Background(), countdownAlarm(time.Now().UTC().Add(40*time.Millisecond)))

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not finish despite emit failure")
	}

	require.Equal(t, []time.Duration{20 * time.Millisecond, 0}, log.snapshot())
}
