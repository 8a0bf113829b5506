package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/workbell/alarm-board/internal/gateway"
	"github.com/workbell/alarm-board/internal/logger"
)

const (
	// defaultTimeout bounds a single HTTP call.
	defaultTimeout = 10 * time.Second
	// defaultRetryCount is how many times idempotent calls are retried.
	defaultRetryCount = 3
	// retryWaitTime is the initial backoff between retries.
	retryWaitTime = 500 * time.Millisecond
	// retryMaxWaitTime caps the backoff between retries.
	retryMaxWaitTime = 3 * time.Second

	// requestIDHeader carries a correlation ID so platform-side logs can be
	// matched with ours.
	requestIDHeader = "X-Request-ID"
)

var (
	// errBaseURLRequired is returned when the platform base URL is missing.
	errBaseURLRequired = errors.New("base URL must be provided")
	// errTokenRequired is returned when the platform API token is missing.
	errTokenRequired = errors.New("token must be provided")
)

// Client talks to the chat platform's REST API and adapts it to the
// gateway interface. Resolved destinations are cached so the common path
// stays off the wire, mirroring how chat clients cache channel lookups.
type Client struct {
	// api is the underlying HTTP client.
	api *resty.Client

	// mu protects destinations.
	mu sync.RWMutex
	// destinations caches resolved destination references.
	destinations map[string]gateway.DestinationHandle
}

// Option configures client behaviour.
type Option func(*resty.Client)

// WithTimeout sets the per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *resty.Client) {
		if timeout > 0 {
			c.SetTimeout(timeout)
		}
	}
}

// WithRetryCount sets how many times idempotent calls are retried.
func WithRetryCount(count int) Option {
	return func(c *resty.Client) {
		if count >= 0 {
			c.SetRetryCount(count)
		}
	}
}

// New creates a platform client for the given base URL and API token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errBaseURLRequired
	}

	if token == "" {
		return nil, errTokenRequired
	}

	api := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetTimeout(defaultTimeout).
		SetRetryCount(defaultRetryCount).
		SetRetryWaitTime(retryWaitTime).
		SetRetryMaxWaitTime(retryMaxWaitTime).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// Mutating calls are not retried: a timed-out publish may have
			// landed, and a second attempt would duplicate the view.
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}

			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		}).
		OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			req.SetHeader(requestIDHeader, uuid.NewString())

			return nil
		})

	for _, opt := range opts {
		opt(api)
	}

	return &Client{
		api:          api,
		destinations: make(map[string]gateway.DestinationHandle),
	}, nil
}

var _ gateway.Gateway = (*Client)(nil)

// destinationResponse is the platform's destination descriptor.
type destinationResponse struct {
	ID string `json:"id"`
}

// viewPayload is the body of publish and update calls.
type viewPayload struct {
	Title          string   `json:"title,omitempty"`
	Lines          []string `json:"lines"`
	Footer         string   `json:"footer,omitempty"`
	AudienceRoleID string   `json:"audience_role_id,omitempty"`
}

// viewResponse is the platform's view descriptor.
type viewResponse struct {
	ID string `json:"id"`
}

// messagePayload is the body of notify calls.
type messagePayload struct {
	Text           string `json:"text"`
	AudienceRoleID string `json:"audience_role_id,omitempty"`
}

// listViewsResponse is the platform's answer to a view listing.
type listViewsResponse struct {
	Views []viewResponse `json:"views"`
}

// ResolveDestination resolves a destination reference to a platform handle,
// consulting the cache before going to the wire.
func (c *Client) ResolveDestination(ctx context.Context, ref string) (gateway.DestinationHandle, error) {
	c.mu.RLock()
	handle, ok := c.destinations[ref]
	c.mu.RUnlock()

	if ok {
		return handle, nil
	}

	var out destinationResponse

	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParam("ref", ref).
		SetResult(&out).
		Get("/api/destinations/{ref}")
	if err := mapError("resolve destination", resp, err); err != nil {
		return "", err
	}

	handle = gateway.DestinationHandle(out.ID)

	c.mu.Lock()
	c.destinations[ref] = handle
	c.mu.Unlock()

	return handle, nil
}

// Publish creates a view at the destination and returns its handle.
func (c *Client) Publish(ctx context.Context, dest gateway.DestinationHandle, view *gateway.RenderedView) (gateway.ViewHandle, error) {
	var out viewResponse

	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParam("destination", string(dest)).
		SetBody(toViewPayload(view)).
		SetResult(&out).
		Post("/api/destinations/{destination}/views")
	if err := mapError("publish view", resp, err); err != nil {
		return gateway.ViewHandle{}, err
	}

	handle := gateway.ViewHandle{
		DestinationID: string(dest),
		ID:            out.ID,
	}

	logger.DebugKV(ctx, "Published view", "view", handle.String())

	return handle, nil
}

// Update rewrites the content of an existing view.
func (c *Client) Update(ctx context.Context, handle gateway.ViewHandle, view *gateway.RenderedView) error {
	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"destination": handle.DestinationID,
			"view":        handle.ID,
		}).
		SetBody(toViewPayload(view)).
		Patch("/api/destinations/{destination}/views/{view}")

	return mapError("update view", resp, err)
}

// Retract deletes a view.
func (c *Client) Retract(ctx context.Context, handle gateway.ViewHandle) error {
	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"destination": handle.DestinationID,
			"view":        handle.ID,
		}).
		Delete("/api/destinations/{destination}/views/{view}")

	return mapError("retract view", resp, err)
}

// Notify posts a transient message to the destination.
func (c *Client) Notify(ctx context.Context, dest gateway.DestinationHandle, msg *gateway.Message) error {
	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParam("destination", string(dest)).
		SetBody(messagePayload{
			Text:           msg.Text,
			AudienceRoleID: msg.AudienceRoleID,
		}).
		Post("/api/destinations/{destination}/messages")

	return mapError("notify", resp, err)
}

// ListViews returns the destination's views whose footer carries the marker.
func (c *Client) ListViews(ctx context.Context, dest gateway.DestinationHandle, marker string) ([]gateway.ViewHandle, error) {
	var out listViewsResponse

	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParam("destination", string(dest)).
		SetQueryParam("marker", marker).
		SetResult(&out).
		Get("/api/destinations/{destination}/views")
	if err := mapError("list views", resp, err); err != nil {
		return nil, err
	}

	handles := make([]gateway.ViewHandle, 0, len(out.Views))
	for _, view := range out.Views {
		handles = append(handles, gateway.ViewHandle{
			DestinationID: string(dest),
			ID:            view.ID,
		})
	}

	return handles, nil
}

// toViewPayload converts a rendered view into the wire shape.
func toViewPayload(view *gateway.RenderedView) viewPayload {
	return viewPayload{
		Title:          view.Title,
		Lines:          view.Lines,
		Footer:         view.Footer,
		AudienceRoleID: view.AudienceRoleID,
	}
}

// mapError folds transport and HTTP failures into the gateway sentinels.
// Missing resources map to ErrNotFound, transport errors and server-side
// failures to ErrUnavailable so callers can tell the two apart.
func mapError(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, gateway.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, gateway.ErrNotFound)
	case resp.StatusCode() >= http.StatusInternalServerError:
		return fmt.Errorf("%s: status %d: %w", op, resp.StatusCode(), gateway.ErrUnavailable)
	case resp.IsError():
		return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode())
	}

	return nil
}
