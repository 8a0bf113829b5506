package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/workbell/alarm-board/internal/clock"
	"github.com/workbell/alarm-board/internal/dashboard"
	domain "github.com/workbell/alarm-board/internal/domain/alarm"
	"github.com/workbell/alarm-board/internal/gateway"
	"github.com/workbell/alarm-board/internal/logger"
	"github.com/workbell/alarm-board/internal/registry"
	"github.com/workbell/alarm-board/internal/repository/store"
	"github.com/workbell/alarm-board/internal/scheduler"
)

// Engine owns the live alarm state: the registry of running countdowns, the
// board reconcilers, tenant configuration and the snapshot on disk. All
// mutations flow through it so the registry, the store and the published
// boards stay consistent.
type Engine struct {
	// repo persists the snapshot.
	repo store.Repository
	// gw delivers notifications and board views.
	gw gateway.Gateway
	// clk supplies time; swapped for a fake in tests.
	clk clock.Clock
	// reg indexes the running countdowns.
	reg *registry.Registry
	// boards keeps one reconciler per active destination.
	boards *dashboard.Manager
	// sched starts countdown goroutines.
	sched *scheduler.Scheduler

	// mu protects tenants.
	mu sync.RWMutex
	// tenants holds per-tenant configuration, keyed by tenant ID.
	tenants map[string]*domain.Tenant

	// opMu serializes user-driven mutations so replace-cancels-first never
	// races a concurrent create for the same key.
	opMu sync.Mutex

	// persistMu orders snapshot builds against their writes; without it two
	// concurrent persists could write in the wrong order and keep the older
	// state.
	persistMu sync.Mutex

	// runCtx is the parent context of every countdown and reconciler. It is
	// independent of request contexts and is cancelled by Run on shutdown.
	runCtx context.Context
	// stopTasks cancels runCtx.
	stopTasks context.CancelFunc

	// pending holds the snapshot's alarms between New and Run.
	pending []store.Record
}

// Option configures engine behaviour.
type Option func(*options)

type options struct {
	clk           clock.Clock
	leads         []time.Duration
	boardInterval time.Duration
}

// WithClock substitutes the time source.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		if clk != nil {
			o.clk = clk
		}
	}
}

// WithLeadTimes sets the countdown schedule, offsets before the deadline.
func WithLeadTimes(leads []time.Duration) Option {
	return func(o *options) {
		if len(leads) > 0 {
			o.leads = leads
		}
	}
}

// WithBoardInterval sets the periodic board re-render cadence.
func WithBoardInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.boardInterval = interval
		}
	}
}

// New creates an engine backed by the given snapshot repository and gateway.
// The snapshot is loaded here so a corrupt file fails fast; the alarms it
// holds start counting down when Run is called.
func New(ctx context.Context, repo store.Repository, gw gateway.Gateway, opts ...Option) (*Engine, error) {
	o := &options{
		clk:           clock.System{},
		leads:         scheduler.DefaultLeads,
		boardInterval: dashboard.DefaultInterval,
	}

	for _, opt := range opts {
		opt(o)
	}

	runCtx, stopTasks := context.WithCancel(logger.WithName(context.Background(), "engine"))

	e := &Engine{
		repo:      repo,
		gw:        gw,
		clk:       o.clk,
		reg:       registry.New(),
		tenants:   make(map[string]*domain.Tenant),
		runCtx:    runCtx,
		stopTasks: stopTasks,
	}

	e.sched = scheduler.New(o.clk, o.leads, e.emitNotification, e.finishCountdown)
	e.boards = dashboard.NewManager(e.reg, gw, o.clk, o.boardInterval, e.renderContext)
	e.reg.SetMutationHook(e.boards.Kick)

	snapshot, err := repo.Load(ctx)

	switch {
	case err == nil:
		for id, tenant := range snapshot.Tenants {
			if err = tenant.Validate(); err != nil {
				return nil, fmt.Errorf("tenant %s in snapshot: %w", id, err)
			}

			e.tenants[id] = tenant.Clone()
		}

		e.pending = snapshot.Alarms
	case errors.Is(err, store.ErrNotFound):
		// First start, nothing to recover.
	default:
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	return e, nil
}

// Run recovers persisted alarms and serves until ctx is cancelled, then stops
// every countdown and reconciler and waits for them to exit. Alarms still
// pending at shutdown stay in the snapshot for the next run.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.recover(ctx); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Engine started", "alarms", e.reg.Len())

	<-ctx.Done()

	logger.Info(ctx, "Shutting down, stopping countdowns and reconcilers")

	tasks := e.reg.Tasks()

	e.stopTasks()

	for _, task := range tasks {
		<-task.Done()
	}

	e.boards.Wait()

	return nil
}

// recover rebuilds the in-memory schedule from the loaded snapshot: stale
// board views are swept first, expired alarms are dropped without firing,
// everything else resumes with its remaining warnings.
func (e *Engine) recover(ctx context.Context) error {
	e.sweepStaleViews(ctx)

	now := e.clk.Now()
	dropped := 0

	for _, rec := range e.pending {
		a := rec.Alarm()

		if !a.Deadline.After(now) {
			logger.WarnKV(ctx, "Dropping alarm that expired while the process was down",
				"alarm", a.Key.String(),
				"deadline", a.Deadline.Format(time.RFC3339))

			dropped++

			continue
		}

		handle := scheduler.NewHandle()

		if displaced := e.reg.Insert(a, handle); displaced != nil {
			displaced.Task.Cancel()
		}

		e.sched.Launch(e.runCtx, a, handle)
	}

	e.pending = nil

	if dropped > 0 {
		if err := e.persist(ctx); err != nil {
			return fmt.Errorf("persist after recovery: %w", err)
		}
	}

	for _, destinationID := range e.reg.DestinationIDs() {
		e.boards.Ensure(e.runCtx, destinationID)
	}

	return nil
}

// sweepStaleViews retracts marker-bearing board views left over from a
// previous process lifetime. No view handle survives a restart, so every
// marked view at a known destination is stale by definition.
func (e *Engine) sweepStaleViews(ctx context.Context) {
	for _, destinationID := range e.knownDestinations() {
		retracted, err := e.boards.Sweep(ctx, destinationID)
		if err != nil {
			logger.WarnKV(ctx, "Failed to sweep stale board views",
				"destination", destinationID,
				"error", err)

			continue
		}

		if retracted > 0 {
			logger.InfoKV(ctx, "Retracted stale board views",
				"destination", destinationID,
				"count", retracted)
		}
	}
}

// knownDestinations unions the destinations of pending alarms and configured
// routes, deduplicated and sorted.
func (e *Engine) knownDestinations() []string {
	seen := make(map[string]struct{})

	for _, rec := range e.pending {
		seen[rec.DestinationID] = struct{}{}
	}

	e.mu.RLock()

	for _, tenant := range e.tenants {
		for _, destinationID := range tenant.DestinationIDs() {
			seen[destinationID] = struct{}{}
		}
	}

	e.mu.RUnlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// emitNotification delivers one countdown notification through the gateway.
func (e *Engine) emitNotification(ctx context.Context, a *domain.Alarm, remaining time.Duration) error {
	text := dashboard.AlarmText(a)
	if remaining > 0 {
		text = dashboard.WarningText(a, remaining)
	}

	return e.gw.Notify(ctx, gateway.DestinationHandle(a.DestinationID), &gateway.Message{
		Text:           text,
		AudienceRoleID: e.audienceRoleFor(a.TenantID, a.DestinationID),
	})
}

// finishCountdown is the shared cleanup path of completed and cancelled
// countdowns: drop the registry entry, rewrite the snapshot, let the mutation
// hook refresh the board. A countdown whose key was already taken over by a
// replacement leaves everything alone.
func (e *Engine) finishCountdown(ctx context.Context, a *domain.Alarm, h *scheduler.Handle) {
	if e.reg.Remove(a.Key, h) == nil {
		return
	}

	if err := e.persist(ctx); err != nil {
		logger.ErrorKV(ctx, "Failed to persist snapshot after countdown cleanup",
			"alarm", a.Key.String(),
			"error", err)
	}
}

// persist rewrites the snapshot from current in-memory state. Build and write
// happen under one lock so snapshots reach the disk in the order they were
// taken.
func (e *Engine) persist(ctx context.Context) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	snapshot := store.NewSnapshot()

	e.mu.RLock()

	for id, tenant := range e.tenants {
		snapshot.Tenants[id] = tenant.Clone()
	}

	e.mu.RUnlock()

	for _, a := range e.reg.All() {
		snapshot.Alarms = append(snapshot.Alarms, store.RecordFromAlarm(a))
	}

	sort.Slice(snapshot.Alarms, func(i, j int) bool {
		left, right := snapshot.Alarms[i], snapshot.Alarms[j]

		if left.TenantID != right.TenantID {
			return left.TenantID < right.TenantID
		}

		if left.DestinationID != right.DestinationID {
			return left.DestinationID < right.DestinationID
		}

		if left.OwnerID != right.OwnerID {
			return left.OwnerID < right.OwnerID
		}

		return left.Label < right.Label
	})

	if err := e.repo.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return nil
}

// renderContext supplies the board renderer with the tenant's clock offset
// and the audience role configured for the destination.
func (e *Engine) renderContext(tenantID, destinationID string) (int, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tenant, ok := e.tenants[tenantID]
	if !ok {
		return 0, ""
	}

	return tenant.UTCOffsetHours, audienceRole(tenant, destinationID)
}

// audienceRoleFor looks up the audience role configured for the destination.
func (e *Engine) audienceRoleFor(tenantID, destinationID string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tenant, ok := e.tenants[tenantID]
	if !ok {
		return ""
	}

	return audienceRole(tenant, destinationID)
}

// audienceRole scans the tenant's routes for the one posting to the
// destination. Callers hold the tenant lock.
func audienceRole(tenant *domain.Tenant, destinationID string) string {
	for _, route := range tenant.Routes {
		if route.DestinationID == destinationID {
			return route.AudienceRoleID
		}
	}

	return ""
}
