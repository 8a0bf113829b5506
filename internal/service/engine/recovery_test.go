package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/workbell/alarm-board/internal/dashboard"
	domain "github.com/workbell/alarm-board/internal/domain/alarm"
	"github.com/workbell/alarm-board/internal/gateway"
	"github.com/workbell/alarm-board/internal/gateway/memory"
	"github.com/workbell/alarm-board/internal/repository/store"
)

// seedSnapshot writes a snapshot with the standard test tenant and the given
// alarms, as a previous process lifetime would have left it.
func seedSnapshot(t *testing.T, repo store.Repository, alarms ...store.Record) {
	t.Helper()

	snapshot := store.NewSnapshot()
	snapshot.Tenants[testTenant] = &domain.Tenant{
		AudienceRoleIDs: []string{testRole},
		Routes: map[string]domain.Route{
			testSource: {DestinationID: testDest, AudienceRoleID: "role-1"},
		},
	}
	snapshot.Alarms = alarms

	require.NoError(t, repo.Save(context.Background(), snapshot))
}

func record(owner, label string, deadline time.Time) store.Record {
	return store.Record{
		TenantID:      testTenant,
		DestinationID: testDest,
		OwnerID:       owner,
		Label:         label,
		Name:          "recovered",
		Deadline:      deadline,
		CreatedAt:     deadline.Add(-time.Hour),
	}
}

func runEngine(t *testing.T, e *Engine) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- e.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()

		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})
}

func TestRunRecoversPendingDropsExpiredAndSweepsStaleViews(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()

	gw, err := memory.New()
	require.NoError(t, err)

	// Leftovers of the previous lifetime: a board view of ours and a view
	// someone else published.
	stale, err := gw.Publish(ctx, testDest, &gateway.RenderedView{Footer: dashboard.FooterMarker})
	require.NoError(t, err)

	unrelated, err := gw.Publish(ctx, testDest, &gateway.RenderedView{Footer: "someone else's view"})
	require.NoError(t, err)

	repo := store.NewFileRepository(filepath.Join(t.TempDir(), "snapshot.json"))
	seedSnapshot(t, repo,
		record("owner-1", "18:00", now.Add(time.Hour)),
		record("owner-2", "06:00", now.Add(-time.Hour)),
	)

	e, err := New(ctx, repo, gw, WithBoardInterval(20*time.Millisecond))
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)

	go func() {
		errCh <- e.Run(runCtx)
	}()

	// Only the still-future alarm comes back.
	require.Eventually(t, func() bool {
		pending := e.AlarmsAt(testDest)

		return len(pending) == 1 && pending[0].OwnerID == "owner-1"
	}, pollTimeout, pollTick)

	// The stale board was retracted and a fresh one published; the foreign
	// view was left alone.
	require.Eventually(t, func() bool {
		if gw.View(stale) != nil {
			return false
		}

		marked, listErr := gw.ListViews(ctx, testDest, dashboard.FooterMarker)

		return listErr == nil && len(marked) == 1 && marked[0] != stale
	}, pollTimeout, pollTick)
	require.NotNil(t, gw.View(unrelated))

	// The expired alarm was dropped from the snapshot without any
	// notification.
	snapshot, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot.Alarms, 1)
	require.Equal(t, "owner-1", snapshot.Alarms[0].OwnerID)
	require.Empty(t, gw.Messages(testDest))

	// Shutdown keeps the pending alarm persisted for the next lifetime.
	cancel()
	require.NoError(t, <-errCh)

	snapshot, err = repo.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot.Alarms, 1)
}

func TestRunRecoveredCountdownSkipsPastLeadsAndFiresRest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()

	gw, err := memory.New()
	require.NoError(t, err)

	repo := store.NewFileRepository(filepath.Join(t.TempDir(), "snapshot.json"))
	seedSnapshot(t, repo, record("owner-1", "18:00", now.Add(60*time.Millisecond)))

	e, err := New(ctx, repo, gw,
		WithBoardInterval(20*time.Millisecond),
		WithLeadTimes([]time.Duration{10 * time.Minute, 30 * time.Millisecond, 0}))
	require.NoError(t, err)

	runEngine(t, e)

	// The ten minute warning is in the past and must be skipped; the rest of
	// the schedule still fires at its correct offsets.
	require.Eventually(t, func() bool {
		return len(gw.Messages(testDest)) == 2
	}, pollTimeout, pollTick)

	msgs := gw.Messages(testDest)
	require.Contains(t, msgs[0].Text, "until **recovered**")
	require.Contains(t, msgs[1].Text, "ALARM for **recovered**")

	// Completion cleaned up: registry and snapshot both empty.
	require.Eventually(t, func() bool {
		return len(e.AlarmsAt(testDest)) == 0
	}, pollTimeout, pollTick)

	snapshot, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, snapshot.Alarms)
}

func TestRunWithEmptyStoreStartsClean(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	gw, err := memory.New()
	require.NoError(t, err)

	repo := store.NewFileRepository(filepath.Join(t.TempDir(), "snapshot.json"))

	e, err := New(ctx, repo, gw, WithBoardInterval(20*time.Millisecond))
	require.NoError(t, err)

	runEngine(t, e)

	require.Empty(t, e.Destinations())

	// The engine is fully operational after an empty recovery.
	_, err = e.ConfigureRoute(ctx, admin, testTenant, testSource, testDest, "role-1")
	require.NoError(t, err)
	require.NoError(t, e.AllowAudienceRole(ctx, admin, testTenant, testRole))

	_, err = e.CreateAlarm(ctx, createRequest(farLabel(), "first of this lifetime"))
	require.NoError(t, err)
	require.Len(t, e.AlarmsAt(testDest), 1)
}
