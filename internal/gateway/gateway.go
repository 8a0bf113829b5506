package gateway

import (
	"context"
	"errors"
	"fmt"
)

// DestinationHandle is a resolved, addressable endpoint on the messaging
// platform. It is opaque to the engine.
type DestinationHandle string

// ViewHandle addresses one published aggregate view so it can be updated or
// retracted in place.
type ViewHandle struct {
	// DestinationID is the endpoint the view was published to.
	DestinationID string
	// ID is the platform identifier of the published view.
	ID string
}

// String renders the handle for logs.
func (h ViewHandle) String() string {
	return fmt.Sprintf("%s/%s", h.DestinationID, h.ID)
}

// RenderedView is a platform-agnostic aggregate view ready for publishing.
// Addressing the audience (mention syntax and the like) is the platform
// layer's business; the view only carries the role ID.
type RenderedView struct {
	// Title is the view heading.
	Title string
	// AudienceRoleID is the role the view concerns; empty when unrouted.
	AudienceRoleID string
	// Lines are the body rows, already ordered.
	Lines []string
	// Footer marks the view so a later process can recognize it.
	Footer string
}

// Message is a single warning notification.
type Message struct {
	// Text is the rendered notification body.
	Text string
	// AudienceRoleID is the role to address; empty when unrouted.
	AudienceRoleID string
}

var (
	// ErrNotFound reports that the addressed destination or view does not
	// exist (anymore). Callers branch on it: updates fall back to publishing,
	// retracts treat it as already done.
	ErrNotFound = errors.New("gateway: not found")
	// ErrUnavailable reports a transient delivery failure. Callers log it and
	// let the next tick or lead time self-correct.
	ErrUnavailable = errors.New("gateway: temporarily unavailable")
)

// Gateway is the messaging boundary the engine consumes. Implementations
// translate these operations to a concrete platform; the engine never sees
// platform details.
type Gateway interface {
	// ResolveDestination turns a configured destination reference into a live
	// addressable handle, tolerating a stale local cache by falling back to a
	// direct fetch.
	ResolveDestination(ctx context.Context, ref string) (DestinationHandle, error)
	// Publish creates a new aggregate view and returns its handle.
	Publish(ctx context.Context, dest DestinationHandle, view *RenderedView) (ViewHandle, error)
	// Update replaces a published view in place. Returns ErrNotFound when the
	// view no longer exists; the caller republishes then.
	Update(ctx context.Context, handle ViewHandle, view *RenderedView) error
	// Retract deletes a published view. Returns ErrNotFound when it is
	// already gone, which callers treat as success.
	Retract(ctx context.Context, handle ViewHandle) error
	// Notify posts a warning message. Best effort; failures never abort the
	// caller's schedule.
	Notify(ctx context.Context, dest DestinationHandle, msg *Message) error
	// ListViews returns the handles of views in the destination whose footer
	// carries the marker, so stale views from a prior process can be swept.
	ListViews(ctx context.Context, dest DestinationHandle, marker string) ([]ViewHandle, error)
}
