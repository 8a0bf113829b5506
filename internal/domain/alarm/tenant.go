package alarm

import "slices"

// Route maps a command channel to the destination its alarms post to and the
// audience role mentioned there.
type Route struct {
	// DestinationID is the endpoint alarms created through this channel post to.
	DestinationID string `json:"destination_id"`
	// AudienceRoleID is the role addressed by warnings and dashboards.
	AudienceRoleID string `json:"audience_role_id"`
}

// Tenant is one isolated configuration scope (a workspace): who may manage
// alarms, which command channel posts where, and how user-entered clock
// times relate to UTC. Plain bookkeeping; the engine persists it as-is.
type Tenant struct {
	// AudienceRoleIDs is the allow-list of roles that may manage alarms.
	AudienceRoleIDs []string `json:"audience_role_ids"`
	// Routes maps command-channel IDs to their post destination and audience.
	Routes map[string]Route `json:"routes"`
	// UTCOffsetHours shifts user-entered clock times into UTC, bounded to [-12, +14].
	UTCOffsetHours int `json:"utc_offset_hours"`
}

// NewTenant returns an empty tenant with initialized containers.
func NewTenant() *Tenant {
	return &Tenant{
		AudienceRoleIDs: []string{},
		Routes:          make(map[string]Route),
	}
}

// Clone returns a deep copy of the tenant.
func (t *Tenant) Clone() *Tenant {
	if t == nil {
		return nil
	}

	cloned := &Tenant{
		AudienceRoleIDs: slices.Clone(t.AudienceRoleIDs),
		Routes:          make(map[string]Route, len(t.Routes)),
		UTCOffsetHours:  t.UTCOffsetHours,
	}
	for channelID, route := range t.Routes {
		cloned.Routes[channelID] = route
	}

	return cloned
}

// Validate checks invariants a loaded or mutated tenant must hold.
func (t *Tenant) Validate() error {
	return ValidateUTCOffset(t.UTCOffsetHours)
}

// RouteFor resolves the route configured for a command channel.
func (t *Tenant) RouteFor(channelID string) (Route, bool) {
	route, ok := t.Routes[channelID]

	return route, ok
}

// DestinationIDs returns the distinct post destinations of all routes.
func (t *Tenant) DestinationIDs() []string {
	seen := make(map[string]struct{}, len(t.Routes))
	ids := make([]string, 0, len(t.Routes))

	for _, route := range t.Routes {
		if _, ok := seen[route.DestinationID]; ok {
			continue
		}

		seen[route.DestinationID] = struct{}{}
		ids = append(ids, route.DestinationID)
	}

	slices.Sort(ids)

	return ids
}

// AllowRole adds a role to the audience allow-list.
// Reports whether the list changed.
func (t *Tenant) AllowRole(roleID string) bool {
	if slices.Contains(t.AudienceRoleIDs, roleID) {
		return false
	}

	t.AudienceRoleIDs = append(t.AudienceRoleIDs, roleID)

	return true
}

// RevokeRole removes a role from the audience allow-list.
// Reports whether the list changed.
func (t *Tenant) RevokeRole(roleID string) bool {
	before := len(t.AudienceRoleIDs)
	t.AudienceRoleIDs = slices.DeleteFunc(t.AudienceRoleIDs, func(id string) bool {
		return id == roleID
	})

	return len(t.AudienceRoleIDs) != before
}

// Actor is whoever invoked an operation, as reported by the platform.
type Actor struct {
	// ID is the platform user ID; it becomes the OwnerID of created alarms.
	ID string
	// RoleIDs are the roles the actor holds in the workspace.
	RoleIDs []string
	// IsAdmin reports workspace administrator rights.
	IsAdmin bool
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a
	cloned.RoleIDs = slices.Clone(a.RoleIDs)

	return &cloned
}

// Authorizes reports whether the actor may manage alarms in this tenant:
// administrators always, everyone else through the audience allow-list.
func (t *Tenant) Authorizes(actor *Actor) bool {
	if actor == nil {
		return false
	}

	if actor.IsAdmin {
		return true
	}

	return slices.ContainsFunc(actor.RoleIDs, func(id string) bool {
		return slices.Contains(t.AudienceRoleIDs, id)
	})
}
