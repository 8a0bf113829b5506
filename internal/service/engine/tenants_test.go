package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/workbell/alarm-board/internal/domain/alarm"
	"github.com/workbell/alarm-board/internal/gateway/memory"
	"github.com/workbell/alarm-board/internal/repository/store"
)

func TestConfigurationRequiresAdmin(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.ConfigureRoute(ctx, member, testTenant, "another-channel", testDest, "role-1")
	require.ErrorIs(t, err, ErrAdminOnly)

	require.ErrorIs(t, h.engine.RemoveRoute(ctx, member, testTenant, testSource), ErrAdminOnly)
	require.ErrorIs(t, h.engine.SetUTCOffset(ctx, member, testTenant, 3), ErrAdminOnly)
	require.ErrorIs(t, h.engine.AllowAudienceRole(ctx, member, testTenant, "role-2"), ErrAdminOnly)
	require.ErrorIs(t, h.engine.RevokeAudienceRole(ctx, member, testTenant, testRole), ErrAdminOnly)

	_, err = h.engine.AudienceRoles(ctx, member, testTenant)
	require.ErrorIs(t, err, ErrAdminOnly)

	_, err = h.engine.ConfigureRoute(ctx, nil, testTenant, "another-channel", testDest, "role-1")
	require.ErrorIs(t, err, ErrActorRequired)
}

func TestConfigureAndRemoveRoute(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	route, ok := h.engine.RouteFor(testTenant, testSource)
	require.True(t, ok)
	require.Equal(t, testDest, route.DestinationID)
	require.Equal(t, "role-1", route.AudienceRoleID)

	_, ok = h.engine.RouteFor(testTenant, "another-channel")
	require.False(t, ok)

	require.NoError(t, h.engine.RemoveRoute(ctx, admin, testTenant, testSource))

	_, ok = h.engine.RouteFor(testTenant, testSource)
	require.False(t, ok)

	// Removing twice is a no-op.
	require.NoError(t, h.engine.RemoveRoute(ctx, admin, testTenant, testSource))

	// Without a route the channel rejects alarm commands.
	_, err := h.engine.CreateAlarm(ctx, createRequest("18:00", "orphan"))
	require.ErrorIs(t, err, ErrRouteNotConfigured)
}

func TestSetUTCOffsetBounds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.SetUTCOffset(ctx, admin, testTenant, -12))
	require.Equal(t, -12, h.engine.UTCOffset(testTenant))

	require.NoError(t, h.engine.SetUTCOffset(ctx, admin, testTenant, 14))
	require.Equal(t, 14, h.engine.UTCOffset(testTenant))

	require.ErrorIs(t, h.engine.SetUTCOffset(ctx, admin, testTenant, -13), domain.ErrOffsetOutOfRange)
	require.ErrorIs(t, h.engine.SetUTCOffset(ctx, admin, testTenant, 15), domain.ErrOffsetOutOfRange)
	require.Equal(t, 14, h.engine.UTCOffset(testTenant))
}

func TestAudienceRoleRoundtrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	roles, err := h.engine.AudienceRoles(ctx, admin, testTenant)
	require.NoError(t, err)
	require.Equal(t, []string{testRole}, roles)

	require.NoError(t, h.engine.AllowAudienceRole(ctx, admin, testTenant, "role-2"))
	require.NoError(t, h.engine.AllowAudienceRole(ctx, admin, testTenant, "role-2")) // idempotent

	roles, err = h.engine.AudienceRoles(ctx, admin, testTenant)
	require.NoError(t, err)
	require.Equal(t, []string{testRole, "role-2"}, roles)

	require.NoError(t, h.engine.RevokeAudienceRole(ctx, admin, testTenant, testRole))
	require.NoError(t, h.engine.RevokeAudienceRole(ctx, admin, testTenant, testRole)) // idempotent

	roles, err = h.engine.AudienceRoles(ctx, admin, testTenant)
	require.NoError(t, err)
	require.Equal(t, []string{"role-2"}, roles)

	require.ErrorIs(t, h.engine.AllowAudienceRole(ctx, admin, testTenant, ""), ErrRoleRequired)

	// The member's role was revoked, so alarm commands now bounce.
	_, err = h.engine.CreateAlarm(ctx, createRequest("18:00", "nope"))
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestTenantConfigurationSurvivesRestart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshot.json")

	gw, err := memory.New()
	require.NoError(t, err)

	first, err := New(ctx, store.NewFileRepository(path), gw, WithBoardInterval(20*time.Millisecond))
	require.NoError(t, err)

	_, err = first.ConfigureRoute(ctx, admin, testTenant, testSource, testDest, "role-1")
	require.NoError(t, err)
	require.NoError(t, first.SetUTCOffset(ctx, admin, testTenant, 5))
	require.NoError(t, first.AllowAudienceRole(ctx, admin, testTenant, testRole))

	stopEngine(first)

	second, err := New(ctx, store.NewFileRepository(path), gw, WithBoardInterval(20*time.Millisecond))
	require.NoError(t, err)

	t.Cleanup(func() {
		stopEngine(second)
	})

	route, ok := second.RouteFor(testTenant, testSource)
	require.True(t, ok)
	require.Equal(t, testDest, route.DestinationID)
	require.Equal(t, 5, second.UTCOffset(testTenant))

	roles, err := second.AudienceRoles(ctx, admin, testTenant)
	require.NoError(t, err)
	require.Equal(t, []string{testRole}, roles)
}
