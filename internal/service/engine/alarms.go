package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	domain "github.com/workbell/alarm-board/internal/domain/alarm"
	"github.com/workbell/alarm-board/internal/logger"
	"github.com/workbell/alarm-board/internal/scheduler"
)

var (
	// ErrActorRequired is returned when an operation is missing its actor.
	ErrActorRequired = errors.New("actor must be provided")
	// ErrNotAuthorized is returned when the actor has no allowed audience
	// role and is not an administrator.
	ErrNotAuthorized = errors.New("actor lacks an allowed audience role")
	// ErrAdminOnly is returned when a configuration operation is attempted
	// without the administrator right.
	ErrAdminOnly = errors.New("administrator right required")
	// ErrRouteNotConfigured is returned when the source channel has no
	// destination configured.
	ErrRouteNotConfigured = errors.New("channel has no destination configured")
	// ErrAlarmNotFound is returned when cancelling a label with no alarm.
	ErrAlarmNotFound = errors.New("no alarm found for that time")
	// ErrDestinationUnavailable is returned when the configured destination
	// cannot be resolved or accessed.
	ErrDestinationUnavailable = errors.New("destination not found or not accessible")
)

// CreateAlarmRequest carries one alarm creation.
type CreateAlarmRequest struct {
	// Actor is the user creating the alarm.
	Actor *domain.Actor
	// TenantID is the workspace the command came from.
	TenantID string
	// SourceID is the channel the command came from; it selects the route.
	SourceID string
	// TimeOfDay is the user-entered HH:MM deadline.
	TimeOfDay string
	// Name is the announced alarm name.
	Name string
	// Note is optional free text shown next to the name.
	Note string
}

// CancelAlarmRequest identifies one alarm to cancel by its label.
type CancelAlarmRequest struct {
	// Actor is the user cancelling their alarm.
	Actor *domain.Actor
	// TenantID is the workspace the command came from.
	TenantID string
	// SourceID is the channel the command came from.
	SourceID string
	// TimeOfDay is the label of the alarm to cancel.
	TimeOfDay string
}

// ListAlarmsRequest asks for the alarms pending at the channel's destination.
type ListAlarmsRequest struct {
	// Actor is the requesting user.
	Actor *domain.Actor
	// TenantID is the workspace the command came from.
	TenantID string
	// SourceID is the channel the command came from.
	SourceID string
}

// CreateAlarm schedules a new alarm for the next occurrence of the given
// time of day. A second alarm with the same label for the same owner at the
// same destination replaces the first: the old countdown is cancelled and
// its cleanup awaited before the new one starts, so the two never overlap.
func (e *Engine) CreateAlarm(ctx context.Context, req *CreateAlarmRequest) (*domain.Alarm, error) {
	route, offsetHours, err := e.authorizeRoute(req.Actor, req.TenantID, req.SourceID)
	if err != nil {
		return nil, err
	}

	label, err := domain.CanonicalLabel(req.TimeOfDay)
	if err != nil {
		return nil, err
	}

	destination, err := e.gw.ResolveDestination(ctx, route.DestinationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDestinationUnavailable, route.DestinationID)
	}

	now := e.clk.Now()

	deadline, err := domain.ResolveDeadline(label, now, offsetHours)
	if err != nil {
		return nil, err
	}

	a := &domain.Alarm{
		Key: domain.Key{
			DestinationID: string(destination),
			OwnerID:       req.Actor.ID,
			Label:         label,
		},
		TenantID:  req.TenantID,
		Name:      req.Name,
		Note:      req.Note,
		Deadline:  deadline,
		CreatedAt: now,
	}

	if err = a.Validate(); err != nil {
		return nil, err
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	// Replace-cancels-first: the prior countdown's cleanup must converge
	// before its slot is reused.
	if prior := e.reg.Find(a.Key); prior != nil {
		prior.Task.Cancel()
		<-prior.Task.Done()
	}

	// Register before launching so even a countdown that completes right
	// away finds its own entry to clean up.
	handle := scheduler.NewHandle()

	if displaced := e.reg.Insert(a, handle); displaced != nil {
		logger.ErrorKV(ctx, "Displaced a live countdown on insert, cancelling it",
			"alarm", a.Key.String())
		displaced.Task.Cancel()
	}

	e.sched.Launch(e.runCtx, a, handle)
	e.boards.Ensure(e.runCtx, a.DestinationID)

	logger.InfoKV(ctx, "Alarm created",
		"alarm", a.Key.String(),
		"name", a.Name,
		"deadline", a.Deadline.Format("2006-01-02 15:04:05 MST"))

	if err = e.persist(ctx); err != nil {
		// The countdown is already live; the snapshot will catch up on the
		// next successful write. The caller still sees the failure.
		return nil, err
	}

	return a.Clone(), nil
}

// CancelAlarm stops the actor's alarm with the given label and waits for its
// cleanup to converge before returning the cancelled alarm.
func (e *Engine) CancelAlarm(ctx context.Context, req *CancelAlarmRequest) (*domain.Alarm, error) {
	route, _, err := e.authorizeRoute(req.Actor, req.TenantID, req.SourceID)
	if err != nil {
		return nil, err
	}

	label, err := domain.CanonicalLabel(req.TimeOfDay)
	if err != nil {
		return nil, err
	}

	destination, err := e.gw.ResolveDestination(ctx, route.DestinationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDestinationUnavailable, route.DestinationID)
	}

	key := domain.Key{
		DestinationID: string(destination),
		OwnerID:       req.Actor.ID,
		Label:         label,
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	entry := e.reg.Find(key)
	if entry == nil {
		return nil, ErrAlarmNotFound
	}

	entry.Task.Cancel()
	<-entry.Task.Done()

	logger.InfoKV(ctx, "Alarm cancelled", "alarm", key.String())

	return entry.Alarm, nil
}

// ListAlarms returns the alarms pending at the channel's destination,
// earliest deadline first.
func (e *Engine) ListAlarms(ctx context.Context, req *ListAlarmsRequest) ([]*domain.Alarm, error) {
	route, _, err := e.authorizeRoute(req.Actor, req.TenantID, req.SourceID)
	if err != nil {
		return nil, err
	}

	destination, err := e.gw.ResolveDestination(ctx, route.DestinationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDestinationUnavailable, route.DestinationID)
	}

	return sortByDeadline(e.reg.ListByDestination(string(destination))), nil
}

// authorizeRoute gates an alarm operation: the source channel must have a
// configured route and the actor must be an administrator or hold one of the
// tenant's allowed audience roles. Returns the route and the tenant's clock
// offset.
func (e *Engine) authorizeRoute(actor *domain.Actor, tenantID, sourceID string) (domain.Route, int, error) {
	if actor == nil {
		return domain.Route{}, 0, ErrActorRequired
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	tenant, ok := e.tenants[tenantID]
	if !ok {
		return domain.Route{}, 0, ErrRouteNotConfigured
	}

	route, ok := tenant.RouteFor(sourceID)
	if !ok {
		return domain.Route{}, 0, ErrRouteNotConfigured
	}

	if !tenant.Authorizes(actor) {
		return domain.Route{}, 0, ErrNotAuthorized
	}

	return route, tenant.UTCOffsetHours, nil
}

// Destinations returns the IDs of destinations that currently hold alarms.
func (e *Engine) Destinations() []string {
	return e.reg.DestinationIDs()
}

// AlarmsAt returns the alarms pending at a destination, earliest deadline
// first. Read-only surfaces use it; the command path goes through ListAlarms.
func (e *Engine) AlarmsAt(destinationID string) []*domain.Alarm {
	return sortByDeadline(e.reg.ListByDestination(destinationID))
}

// sortByDeadline orders alarms earliest first, with a stable tie-break.
func sortByDeadline(alarms []*domain.Alarm) []*domain.Alarm {
	sort.Slice(alarms, func(i, j int) bool {
		if !alarms[i].Deadline.Equal(alarms[j].Deadline) {
			return alarms[i].Deadline.Before(alarms[j].Deadline)
		}

		if alarms[i].OwnerID != alarms[j].OwnerID {
			return alarms[i].OwnerID < alarms[j].OwnerID
		}

		return alarms[i].Label < alarms[j].Label
	})

	return alarms
}
