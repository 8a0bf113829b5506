package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"

	"github.com/workbell/alarm-board/internal/gateway"
	"github.com/workbell/alarm-board/internal/logger"
)

// Gateway is an in-process gateway implementation. Views and messages are
// held in memory, handles are minted from a snowflake node the way the real
// platform mints message IDs. It backs unit tests and the daemon's dry-run
// mode, where notifications end up in the log instead of a chat.
type Gateway struct {
	// node mints unique view IDs.
	node *snowflake.Node
	// mu protects the maps below.
	mu sync.Mutex
	// views holds the published views by handle.
	views map[gateway.ViewHandle]*gateway.RenderedView
	// order remembers publish order per destination for deterministic listing.
	order map[gateway.DestinationHandle][]gateway.ViewHandle
	// messages holds notified messages per destination, oldest first.
	messages map[gateway.DestinationHandle][]gateway.Message
}

// New creates an empty in-memory gateway.
func New() (*Gateway, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}

	return &Gateway{
		node:     node,
		views:    make(map[gateway.ViewHandle]*gateway.RenderedView),
		order:    make(map[gateway.DestinationHandle][]gateway.ViewHandle),
		messages: make(map[gateway.DestinationHandle][]gateway.Message),
	}, nil
}

var _ gateway.Gateway = (*Gateway)(nil)

// ResolveDestination resolves every reference to itself; in-memory
// destinations always exist.
func (g *Gateway) ResolveDestination(_ context.Context, ref string) (gateway.DestinationHandle, error) {
	return gateway.DestinationHandle(ref), nil
}

// Publish stores the view and returns a freshly minted handle.
func (g *Gateway) Publish(ctx context.Context, dest gateway.DestinationHandle, view *gateway.RenderedView) (gateway.ViewHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	handle := gateway.ViewHandle{
		DestinationID: string(dest),
		ID:            g.node.Generate().String(),
	}
	g.views[handle] = cloneView(view)
	g.order[dest] = append(g.order[dest], handle)

	logger.DebugKV(ctx, "Published view", "view", handle.String(), "lines", len(view.Lines))

	return handle, nil
}

// Update replaces a stored view in place.
func (g *Gateway) Update(_ context.Context, handle gateway.ViewHandle, view *gateway.RenderedView) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.views[handle]; !ok {
		return gateway.ErrNotFound
	}

	g.views[handle] = cloneView(view)

	return nil
}

// Retract removes a stored view.
func (g *Gateway) Retract(_ context.Context, handle gateway.ViewHandle) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.views[handle]; !ok {
		return gateway.ErrNotFound
	}

	delete(g.views, handle)

	dest := gateway.DestinationHandle(handle.DestinationID)
	kept := g.order[dest][:0]

	for _, h := range g.order[dest] {
		if h != handle {
			kept = append(kept, h)
		}
	}

	g.order[dest] = kept

	return nil
}

// Notify records the message and echoes it to the log.
func (g *Gateway) Notify(ctx context.Context, dest gateway.DestinationHandle, msg *gateway.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.messages[dest] = append(g.messages[dest], *msg)

	logger.InfoKV(ctx, "Notify", "destination", string(dest), "text", msg.Text)

	return nil
}

// ListViews returns the handles of stored views whose footer carries the marker.
func (g *Gateway) ListViews(_ context.Context, dest gateway.DestinationHandle, marker string) ([]gateway.ViewHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var handles []gateway.ViewHandle

	for _, handle := range g.order[dest] {
		if view := g.views[handle]; view != nil && view.Footer == marker {
			handles = append(handles, handle)
		}
	}

	return handles, nil
}

// View returns the current content of a published view, or nil when it does
// not exist. Test helper.
func (g *Gateway) View(handle gateway.ViewHandle) *gateway.RenderedView {
	g.mu.Lock()
	defer g.mu.Unlock()

	return cloneView(g.views[handle])
}

// Views returns the published views of a destination in publish order.
// Test helper.
func (g *Gateway) Views(dest gateway.DestinationHandle) []*gateway.RenderedView {
	g.mu.Lock()
	defer g.mu.Unlock()

	views := make([]*gateway.RenderedView, 0, len(g.order[dest]))
	for _, handle := range g.order[dest] {
		views = append(views, cloneView(g.views[handle]))
	}

	return views
}

// Messages returns the notified messages of a destination, oldest first.
// Test helper.
func (g *Gateway) Messages(dest gateway.DestinationHandle) []gateway.Message {
	g.mu.Lock()
	defer g.mu.Unlock()

	msgs := make([]gateway.Message, len(g.messages[dest]))
	copy(msgs, g.messages[dest])

	return msgs
}

// cloneView copies a view so stored state never aliases caller memory.
func cloneView(view *gateway.RenderedView) *gateway.RenderedView {
	if view == nil {
		return nil
	}

	cloned := *view
	cloned.Lines = make([]string, len(view.Lines))
	copy(cloned.Lines, view.Lines)

	return &cloned
}
