package ops

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/workbell/alarm-board/internal/clock"
	domain "github.com/workbell/alarm-board/internal/domain/alarm"
)

const (
	// readHeaderTimeout bounds slow clients before the handler runs.
	readHeaderTimeout = 5 * time.Second

	// shutdownTimeout bounds the drain of in-flight requests on stop.
	shutdownTimeout = 10 * time.Second
)

// Introspector is the read-only view of the alarm engine the ops endpoints
// serve from.
type Introspector interface {
	// Destinations returns the IDs of destinations that hold alarms.
	Destinations() []string

	// AlarmsAt returns the pending alarms at a destination, earliest
	// deadline first.
	AlarmsAt(destinationID string) []*domain.Alarm
}

// Server exposes read-only health and introspection endpoints over HTTP.
// It never mutates alarm state.
type Server struct {
	alarms Introspector
	clk    clock.Clock
	http   *http.Server
}

// New builds a server listening on addr.
func New(addr string, alarms Introspector, clk clock.Clock) *Server {
	s := &Server{
		alarms: alarms,
		clk:    clk,
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Router builds the gin engine with all routes registered. It is exposed so
// tests can drive handlers without a listener.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.health)
	r.GET("/api/destinations", s.listDestinations)
	r.GET("/api/destinations/:id/alarms", s.listAlarms)

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve ops endpoints: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shut down ops server: %w", err)
	}

	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// destinationSummary is one destination that currently holds alarms.
type destinationSummary struct {
	ID     string `json:"id"`
	Alarms int    `json:"alarms"`
}

func (s *Server) listDestinations(c *gin.Context) {
	ids := s.alarms.Destinations()

	summaries := make([]destinationSummary, 0, len(ids))
	for _, id := range ids {
		summaries = append(summaries, destinationSummary{
			ID:     id,
			Alarms: len(s.alarms.AlarmsAt(id)),
		})
	}

	c.JSON(http.StatusOK, gin.H{"destinations": summaries})
}

// alarmEntry is one pending alarm as reported by the introspection API.
type alarmEntry struct {
	OwnerID          string    `json:"owner_id"`
	Label            string    `json:"label"`
	Name             string    `json:"name"`
	Note             string    `json:"note,omitempty"`
	Deadline         time.Time `json:"deadline"`
	CreatedAt        time.Time `json:"created_at"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

func (s *Server) listAlarms(c *gin.Context) {
	now := s.clk.Now()

	pending := s.alarms.AlarmsAt(c.Param("id"))

	entries := make([]alarmEntry, 0, len(pending))
	for _, a := range pending {
		remaining := a.Deadline.Sub(now)
		if remaining < 0 {
			remaining = 0
		}

		entries = append(entries, alarmEntry{
			OwnerID:          a.OwnerID,
			Label:            a.Label,
			Name:             a.Name,
			Note:             a.Note,
			Deadline:         a.Deadline,
			CreatedAt:        a.CreatedAt,
			RemainingSeconds: int64(remaining / time.Second),
		})
	}

	c.JSON(http.StatusOK, gin.H{"alarms": entries})
}
