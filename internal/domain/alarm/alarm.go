package alarm

import (
	"errors"
	"fmt"
	"time"
)

// Key is the composite identity of an alarm. A second alarm created with the
// same key replaces the first (cancel-then-create), so at most one live alarm
// exists per key.
type Key struct {
	// DestinationID is the endpoint the alarm posts to.
	DestinationID string
	// OwnerID is the user who created the alarm.
	OwnerID string
	// Label is the canonical HH:MM deadline-of-day string the owner chose.
	Label string
}

// String renders the key for logs.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s@%s", k.DestinationID, k.OwnerID, k.Label)
}

// Alarm is a single user-scheduled timed notification.
type Alarm struct {
	Key

	// TenantID is the configuration scope the alarm was created under.
	// Rendering and recovery need it to look up the tenant's clock offset
	// and audience.
	TenantID string
	// Name is the free-text name announced in warnings.
	Name string
	// Note is optional free text; empty means absent.
	Note string
	// Deadline is the canonical UTC instant the alarm counts down to.
	Deadline time.Time
	// CreatedAt is the UTC instant the alarm was accepted.
	CreatedAt time.Time
}

// ErrNameRequired is returned when an alarm is created without a name.
var ErrNameRequired = errors.New("alarm name must be provided")

// Clone returns a copy so registry internals never leak to callers.
func (a *Alarm) Clone() *Alarm {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// Validate checks the fields a freshly built alarm must carry.
func (a *Alarm) Validate() error {
	if a.Name == "" {
		return ErrNameRequired
	}

	if _, _, err := ParseTimeOfDay(a.Label); err != nil {
		return err
	}

	if a.DestinationID == "" || a.OwnerID == "" {
		return fmt.Errorf("alarm %s: destination and owner must be set", a.Key)
	}

	if a.Deadline.IsZero() {
		return fmt.Errorf("alarm %s: deadline must be set", a.Key)
	}

	return nil
}
