package engine

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/workbell/alarm-board/internal/domain/alarm"
	"github.com/workbell/alarm-board/internal/logger"
)

// ErrRoleRequired is returned when a role operation is missing the role ID.
var ErrRoleRequired = errors.New("role ID must be provided")

// ConfigureRoute binds a source channel to a destination and an audience
// role: alarms created from the channel post to the destination and
// notifications mention the role. Administrator only. The destination
// reference is resolved through the gateway so an inaccessible destination
// is rejected up front.
func (e *Engine) ConfigureRoute(
	ctx context.Context,
	actor *domain.Actor,
	tenantID, sourceID, destinationRef, audienceRoleID string,
) (domain.Route, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Route{}, err
	}

	destination, err := e.gw.ResolveDestination(ctx, destinationRef)
	if err != nil {
		return domain.Route{}, fmt.Errorf("%w: %s", ErrDestinationUnavailable, destinationRef)
	}

	route := domain.Route{
		DestinationID:  string(destination),
		AudienceRoleID: audienceRoleID,
	}

	e.mu.Lock()
	e.ensureTenantLocked(tenantID).Routes[sourceID] = route
	e.mu.Unlock()

	logger.InfoKV(ctx, "Route configured",
		"tenant", tenantID,
		"source", sourceID,
		"destination", route.DestinationID,
		"audience_role", audienceRoleID)

	if err = e.persist(ctx); err != nil {
		return domain.Route{}, err
	}

	return route, nil
}

// RemoveRoute unbinds a source channel. Removing an unbound channel is a
// no-op. Administrator only.
func (e *Engine) RemoveRoute(ctx context.Context, actor *domain.Actor, tenantID, sourceID string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	e.mu.Lock()

	tenant, ok := e.tenants[tenantID]
	if !ok {
		e.mu.Unlock()

		return nil
	}

	if _, ok = tenant.Routes[sourceID]; !ok {
		e.mu.Unlock()

		return nil
	}

	delete(tenant.Routes, sourceID)
	e.mu.Unlock()

	logger.InfoKV(ctx, "Route removed", "tenant", tenantID, "source", sourceID)

	return e.persist(ctx)
}

// SetUTCOffset sets the tenant's clock offset in whole hours, bounded to the
// real-world UTC offset range. It only affects how future alarm times are
// interpreted and how the board shows clock times; deadlines of alarms
// already scheduled stay where they are. Administrator only.
func (e *Engine) SetUTCOffset(ctx context.Context, actor *domain.Actor, tenantID string, hours int) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	if err := domain.ValidateUTCOffset(hours); err != nil {
		return err
	}

	e.mu.Lock()
	e.ensureTenantLocked(tenantID).UTCOffsetHours = hours
	e.mu.Unlock()

	logger.InfoKV(ctx, "Tenant clock offset set", "tenant", tenantID, "utc_offset_hours", hours)

	return e.persist(ctx)
}

// AllowAudienceRole adds a role to the tenant's audience allow-list.
// Adding a role twice is a no-op. Administrator only.
func (e *Engine) AllowAudienceRole(ctx context.Context, actor *domain.Actor, tenantID, roleID string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	if roleID == "" {
		return ErrRoleRequired
	}

	e.mu.Lock()
	changed := e.ensureTenantLocked(tenantID).AllowRole(roleID)
	e.mu.Unlock()

	if !changed {
		return nil
	}

	logger.InfoKV(ctx, "Audience role allowed", "tenant", tenantID, "role", roleID)

	return e.persist(ctx)
}

// RevokeAudienceRole removes a role from the tenant's audience allow-list.
// Revoking an absent role is a no-op. Administrator only.
func (e *Engine) RevokeAudienceRole(ctx context.Context, actor *domain.Actor, tenantID, roleID string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	if roleID == "" {
		return ErrRoleRequired
	}

	e.mu.Lock()

	tenant, ok := e.tenants[tenantID]
	if !ok {
		e.mu.Unlock()

		return nil
	}

	changed := tenant.RevokeRole(roleID)
	e.mu.Unlock()

	if !changed {
		return nil
	}

	logger.InfoKV(ctx, "Audience role revoked", "tenant", tenantID, "role", roleID)

	return e.persist(ctx)
}

// AudienceRoles returns the tenant's audience allow-list. Administrator only.
func (e *Engine) AudienceRoles(_ context.Context, actor *domain.Actor, tenantID string) ([]string, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	tenant, ok := e.tenants[tenantID]
	if !ok {
		return nil, nil
	}

	roles := make([]string, len(tenant.AudienceRoleIDs))
	copy(roles, tenant.AudienceRoleIDs)

	return roles, nil
}

// RouteFor reports the route configured for a source channel, if any.
func (e *Engine) RouteFor(tenantID, sourceID string) (domain.Route, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tenant, ok := e.tenants[tenantID]
	if !ok {
		return domain.Route{}, false
	}

	return tenant.RouteFor(sourceID)
}

// UTCOffset returns the tenant's clock offset in hours; zero for an
// unconfigured tenant.
func (e *Engine) UTCOffset(tenantID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tenant, ok := e.tenants[tenantID]
	if !ok {
		return 0
	}

	return tenant.UTCOffsetHours
}

// ensureTenantLocked returns the tenant's configuration, creating the default
// one on first touch. Callers hold the tenant write lock.
func (e *Engine) ensureTenantLocked(tenantID string) *domain.Tenant {
	tenant, ok := e.tenants[tenantID]
	if !ok {
		tenant = domain.NewTenant()
		e.tenants[tenantID] = tenant
	}

	return tenant
}

// requireAdmin gates configuration operations.
func requireAdmin(actor *domain.Actor) error {
	if actor == nil {
		return ErrActorRequired
	}

	if !actor.IsAdmin {
		return ErrAdminOnly
	}

	return nil
}
