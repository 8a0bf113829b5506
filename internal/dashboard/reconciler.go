package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/workbell/alarm-board/internal/clock"
	domain "github.com/workbell/alarm-board/internal/domain/alarm"
	"github.com/workbell/alarm-board/internal/gateway"
	"github.com/workbell/alarm-board/internal/logger"
)

// DefaultInterval is how often a board is re-rendered between mutations, so
// the remaining-time column keeps moving.
const DefaultInterval = 30 * time.Second

// TenantLookup resolves the rendering context of a destination: the tenant's
// clock offset and the audience role configured for the destination.
type TenantLookup func(tenantID, destinationID string) (offsetHours int, audienceRoleID string)

// Lister is the slice of the registry the reconcilers read.
type Lister interface {
	ListByDestination(destinationID string) []*domain.Alarm
}

// Manager owns one reconciler goroutine per destination that currently shows
// a board. A reconciler re-renders its board every tick and on every kick,
// and terminates once its destination holds no alarms, retracting the board.
type Manager struct {
	// alarms is the registry view the reconcilers render from.
	alarms Lister
	// gw publishes, updates and retracts board views.
	gw gateway.Gateway
	// clk supplies time for the remaining-time column.
	clk clock.Clock
	// interval is the periodic re-render cadence.
	interval time.Duration
	// lookup resolves tenant rendering context.
	lookup TenantLookup

	// mu protects runners. Reconciler startup in Ensure and the emptiness
	// re-check before a reconciler exits take it, so a reconciler can never
	// disappear while its destination still has alarms.
	mu sync.Mutex
	// runners holds the kick channel of each live reconciler.
	runners map[string]chan struct{}
	// slots holds the view slot of every destination ever served. A slot
	// outlives reconciler generations so a later reconciler reuses the
	// already-published view instead of posting a duplicate.
	slots map[string]*viewSlot

	// wg tracks live reconcilers for shutdown.
	wg sync.WaitGroup
}

// viewSlot carries the published view handle of one destination and
// serializes view mutations across reconciler generations.
type viewSlot struct {
	mu     sync.Mutex
	handle *gateway.ViewHandle
}

// NewManager creates a reconciler manager. The interval falls back to
// DefaultInterval when not positive.
func NewManager(alarms Lister, gw gateway.Gateway, clk clock.Clock, interval time.Duration, lookup TenantLookup) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Manager{
		alarms:   alarms,
		gw:       gw,
		clk:      clk,
		interval: interval,
		lookup:   lookup,
		runners:  make(map[string]chan struct{}),
		slots:    make(map[string]*viewSlot),
	}
}

// Ensure starts a reconciler for the destination unless one is already
// running. The fresh reconciler renders immediately, then settles into its
// tick-and-kick loop.
func (m *Manager) Ensure(ctx context.Context, destinationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.runners[destinationID]; running {
		return
	}

	kick := make(chan struct{}, 1)
	m.runners[destinationID] = kick

	slot, ok := m.slots[destinationID]
	if !ok {
		slot = &viewSlot{}
		m.slots[destinationID] = slot
	}

	m.wg.Add(1)

	go m.reconcile(ctx, destinationID, slot, kick)
}

// Kick schedules an immediate re-render of the destination's board. Kicks
// coalesce: one pending kick is enough, extras are dropped. Kicking a
// destination without a running reconciler is a no-op; Ensure starts the
// reconciler and its first render covers the change.
func (m *Manager) Kick(destinationID string) {
	m.mu.Lock()
	kick, running := m.runners[destinationID]
	m.mu.Unlock()

	if !running {
		return
	}

	select {
	case kick <- struct{}{}:
	default:
	}
}

// Sweep retracts every view at the destination that carries the board marker.
// Recovery runs it before starting reconcilers so boards published by a
// previous process lifetime do not linger next to fresh ones. Returns how
// many views were retracted.
func (m *Manager) Sweep(ctx context.Context, destinationID string) (int, error) {
	handles, err := m.gw.ListViews(ctx, gateway.DestinationHandle(destinationID), FooterMarker)
	if err != nil {
		return 0, err
	}

	retracted := 0

	for _, handle := range handles {
		if err := m.gw.Retract(ctx, handle); err != nil && !errors.Is(err, gateway.ErrNotFound) {
			logger.WarnKV(ctx, "Failed to retract stale board view",
				"view", handle.String(),
				"error", err)

			continue
		}

		retracted++
	}

	return retracted, nil
}

// Wait blocks until every reconciler has exited. Called during shutdown
// after the parent context is cancelled.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// reconcile is the per-destination loop.
func (m *Manager) reconcile(ctx context.Context, destinationID string, slot *viewSlot, kick chan struct{}) {
	defer m.wg.Done()

	ctx = logger.WithKV(ctx, "destination", destinationID)

	logger.Debug(ctx, "Board reconciler started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		empty := m.refresh(ctx, destinationID, slot)

		if empty && m.tryStop(destinationID) {
			logger.Debug(ctx, "Board reconciler stopped, no alarms left")

			return
		}

		select {
		case <-ctx.Done():
			m.mu.Lock()
			delete(m.runners, destinationID)
			m.mu.Unlock()

			return
		case <-ticker.C:
		case <-kick:
		}
	}
}

// tryStop unregisters the reconciler if its destination is still empty. The
// emptiness re-check happens under the manager lock, the same lock Ensure
// takes, so an alarm inserted concurrently either sees the old reconciler
// still registered or finds it gone and starts a new one.
func (m *Manager) tryStop(destinationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.alarms.ListByDestination(destinationID)) > 0 {
		return false
	}

	delete(m.runners, destinationID)

	return true
}

// refresh renders the destination's current alarm set and pushes it out.
// Reports whether the destination was empty, in which case the board view
// was retracted instead.
func (m *Manager) refresh(ctx context.Context, destinationID string, slot *viewSlot) bool {
	alarms := m.alarms.ListByDestination(destinationID)
	if len(alarms) == 0 {
		m.retract(ctx, slot)

		return true
	}

	offsetHours, audienceRoleID := m.lookup(alarms[0].TenantID, destinationID)
	view := Render(alarms, offsetHours, audienceRoleID, m.clk.Now())

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.handle == nil {
		m.publish(ctx, destinationID, slot, view)

		return false
	}

	err := m.gw.Update(ctx, *slot.handle, view)
	if err == nil {
		return false
	}

	if errors.Is(err, gateway.ErrNotFound) {
		// Someone deleted the board out from under us; post a fresh one.
		slot.handle = nil
		m.publish(ctx, destinationID, slot, view)

		return false
	}

	logger.WarnKV(ctx, "Failed to update board view", "error", err)

	return false
}

// publish posts a new board view and remembers its handle. Callers hold the
// slot lock.
func (m *Manager) publish(ctx context.Context, destinationID string, slot *viewSlot, view *gateway.RenderedView) {
	handle, err := m.gw.Publish(ctx, gateway.DestinationHandle(destinationID), view)
	if err != nil {
		logger.WarnKV(ctx, "Failed to publish board view", "error", err)

		return
	}

	slot.handle = &handle
}

// retract takes the board down, best effort. A missing view counts as
// retracted; a transient failure keeps the handle so a later pass or the
// recovery sweep can finish the job.
func (m *Manager) retract(ctx context.Context, slot *viewSlot) {
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.handle == nil {
		return
	}

	err := m.gw.Retract(ctx, *slot.handle)
	if err != nil && !errors.Is(err, gateway.ErrNotFound) {
		logger.WarnKV(ctx, "Failed to retract board view", "error", err)

		return
	}

	slot.handle = nil
}
