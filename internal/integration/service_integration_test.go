package integration

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/workbell/alarm-board/internal/dashboard"
	domain "github.com/workbell/alarm-board/internal/domain/alarm"
	"github.com/workbell/alarm-board/internal/gateway"
	"github.com/workbell/alarm-board/internal/gateway/memory"
	"github.com/workbell/alarm-board/internal/repository/store"
	"github.com/workbell/alarm-board/internal/service/engine"
)

const (
	tenantID  = "guild-1"
	sourceID  = "cmd-channel"
	destID    = "ops-room"
	roleID    = "role-9"
	boardTick = 20 * time.Millisecond
	waitFor   = 3 * time.Second
	tick      = 10 * time.Millisecond
)

var (
	admin  = &domain.Actor{ID: "admin-1", IsAdmin: true}
	ownerA = &domain.Actor{ID: "owner-a", RoleIDs: []string{roleID}}
	ownerB = &domain.Actor{ID: "owner-b", RoleIDs: []string{roleID}}
)

// node is one service lifetime: an engine running against a gateway and a
// snapshot file, stopped by cancelling its context.
type node struct {
	engine *engine.Engine
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
	err    error
}

// startNode boots an engine on the given gateway and snapshot path and runs
// it in the background. The gateway is passed in because it outlives nodes
// the way the messaging platform outlives service restarts.
func startNode(t *testing.T, gw *memory.Gateway, dataFile string) *node {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	eng, err := engine.New(ctx, store.NewFileRepository(dataFile), gw,
		engine.WithBoardInterval(boardTick))
	require.NoError(t, err)

	n := &node{engine: eng, cancel: cancel, done: make(chan error, 1)}

	go func() {
		n.done <- eng.Run(ctx)
	}()

	t.Cleanup(func() {
		n.stop(t)
	})

	return n
}

// stop shuts the node down and waits for Run to return. Safe to call twice.
func (n *node) stop(t *testing.T) {
	t.Helper()

	n.once.Do(func() {
		n.cancel()

		select {
		case n.err = <-n.done:
		case <-time.After(5 * time.Second):
			n.err = errors.New("engine did not stop")
		}
	})

	require.NoError(t, n.err)
}

// configure binds the command channel to the board destination and allows
// the shared audience role.
func configure(t *testing.T, n *node) {
	t.Helper()

	ctx := context.Background()

	_, err := n.engine.ConfigureRoute(ctx, admin, tenantID, sourceID, destID, "role-1")
	require.NoError(t, err)
	require.NoError(t, n.engine.AllowAudienceRole(ctx, admin, tenantID, roleID))
}

func create(t *testing.T, n *node, actor *domain.Actor, label, name, note string) {
	t.Helper()

	_, err := n.engine.CreateAlarm(context.Background(), &engine.CreateAlarmRequest{
		Actor:     actor,
		TenantID:  tenantID,
		SourceID:  sourceID,
		TimeOfDay: label,
		Name:      name,
		Note:      note,
	})
	require.NoError(t, err)
}

// TestService_BoardConvergesThroughCancellations walks one destination from
// two pending alarms down to none and expects the published view to follow.
func TestService_BoardConvergesThroughCancellations(t *testing.T) {
	t.Parallel()

	gw, err := memory.New()
	require.NoError(t, err)

	dataFile := filepath.Join(t.TempDir(), "alarms.json")

	n := startNode(t, gw, dataFile)
	configure(t, n)

	ctx := context.Background()

	// Half a day out so nothing fires during the test.
	labelA := domain.LocalClock(time.Now().UTC().Add(12*time.Hour), 0)
	labelB := domain.LocalClock(time.Now().UTC().Add(13*time.Hour), 0)

	create(t, n, ownerA, labelA, "handover", "")
	create(t, n, ownerB, labelB, "lights out", "close the lab")

	// One view with both alarms, earliest deadline first.
	require.Eventually(t, func() bool {
		views := gw.Views(destID)

		return len(views) == 1 && len(views[0].Lines) == 2
	}, waitFor, tick)

	view := gw.Views(destID)[0]
	require.Equal(t, "🔔 Upcoming Alarms", view.Title)
	require.Contains(t, view.Lines[0], "handover")
	require.Contains(t, view.Lines[1], "lights out")
	require.Contains(t, view.Lines[1], "close the lab")

	// First cancellation shrinks the view.
	_, err = n.engine.CancelAlarm(ctx, &engine.CancelAlarmRequest{
		Actor:     ownerA,
		TenantID:  tenantID,
		SourceID:  sourceID,
		TimeOfDay: labelA,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		views := gw.Views(destID)

		return len(views) == 1 && len(views[0].Lines) == 1
	}, waitFor, tick)
	require.Contains(t, gw.Views(destID)[0].Lines[0], "lights out")

	// Last cancellation retracts it.
	_, err = n.engine.CancelAlarm(ctx, &engine.CancelAlarmRequest{
		Actor:     ownerB,
		TenantID:  tenantID,
		SourceID:  sourceID,
		TimeOfDay: labelB,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(gw.Views(destID)) == 0
	}, waitFor, tick)

	require.Empty(t, n.engine.Destinations())

	// Cancellations emit no notifications.
	require.Empty(t, gw.Messages(destID))

	n.stop(t)

	// The snapshot keeps the tenant but no alarms.
	snapshot, err := store.NewFileRepository(dataFile).Load(ctx)
	require.NoError(t, err)
	require.Empty(t, snapshot.Alarms)
	require.Contains(t, snapshot.Tenants, tenantID)
}

// TestService_RestartRecoversAlarmsAndReplacesBoard stops a node with alarms
// pending and expects the next one to resume them from the snapshot, replace
// the stale view it left behind and keep serving commands.
func TestService_RestartRecoversAlarmsAndReplacesBoard(t *testing.T) {
	t.Parallel()

	gw, err := memory.New()
	require.NoError(t, err)

	dataFile := filepath.Join(t.TempDir(), "alarms.json")
	ctx := context.Background()

	first := startNode(t, gw, dataFile)
	configure(t, first)

	labelA := domain.LocalClock(time.Now().UTC().Add(12*time.Hour), 0)
	labelB := domain.LocalClock(time.Now().UTC().Add(13*time.Hour), 0)

	create(t, first, ownerA, labelA, "handover", "")
	create(t, first, ownerB, labelB, "lights out", "close the lab")

	var before []gateway.ViewHandle

	require.Eventually(t, func() bool {
		before, err = gw.ListViews(ctx, destID, dashboard.FooterMarker)

		return err == nil && len(before) == 1 && len(gw.View(before[0]).Lines) == 2
	}, waitFor, tick)

	// Stop the process. The alarms stay in the snapshot and the view stays
	// on the platform.
	first.stop(t)

	second := startNode(t, gw, dataFile)

	// Recovery sweeps the stale view and publishes a fresh one carrying
	// both recovered alarms. No reconfiguration: tenants come from the
	// snapshot too.
	var after []gateway.ViewHandle

	require.Eventually(t, func() bool {
		after, err = gw.ListViews(ctx, destID, dashboard.FooterMarker)

		return err == nil && len(after) == 1 && after[0] != before[0] &&
			len(gw.View(after[0]).Lines) == 2
	}, waitFor, tick)

	view := gw.View(after[0])
	require.Contains(t, view.Lines[0], "handover")
	require.Contains(t, view.Lines[1], "lights out")

	// Far deadlines, so recovery fired nothing.
	require.Empty(t, gw.Messages(destID))

	// The recovered node keeps serving commands.
	_, err = second.engine.CancelAlarm(ctx, &engine.CancelAlarmRequest{
		Actor:     ownerB,
		TenantID:  tenantID,
		SourceID:  sourceID,
		TimeOfDay: labelB,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		views := gw.Views(destID)

		return len(views) == 1 && len(views[0].Lines) == 1
	}, waitFor, tick)

	second.stop(t)

	// Owner A's alarm waits in the snapshot for the next run.
	snapshot, err := store.NewFileRepository(dataFile).Load(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot.Alarms, 1)
	require.Equal(t, ownerA.ID, snapshot.Alarms[0].OwnerID)
	require.Contains(t, snapshot.Tenants, tenantID)
}
