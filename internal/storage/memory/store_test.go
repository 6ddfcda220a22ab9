package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/hotspot-guardian/internal/core"
)

func TestActivateSessionTracksAddresses(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, &core.Session{ID: "sess-1", TenantID: "t1", CurrentIP: "10.0.0.4"}))

	expires := time.Now().Add(time.Hour)
	require.NoError(t, s.ActivateSession(ctx, "sess-1", core.Activation{
		MACAddress: "AA:BB:CC:DD:EE:FF", Address: "10.0.0.5", ExpiresAt: expires,
		RemoteObjects: core.RemoteObjects{BindingAddress: "10.0.0.5"},
	}))

	sess, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, sess.Status)
	assert.Equal(t, "10.0.0.5", sess.CurrentIP)
	assert.Equal(t, core.StringSlice{"10.0.0.4"}, sess.IPHistory)

	found, err := s.FindActiveSession(ctx, "t1", "", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", found.ID)
	found, err = s.FindActiveSession(ctx, "t1", "AA:BB:CC:DD:EE:FF", "")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", found.ID)

	_, err = s.FindActiveSession(ctx, "t2", "AA:BB:CC:DD:EE:FF", "10.0.0.5")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.ActivateSession(ctx, "missing", core.Activation{}), core.ErrNotFound)
}

func TestActivateSessionKeepsActiveExpiry(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, &core.Session{ID: "sess-1", TenantID: "t1", CurrentIP: "10.0.0.4"}))

	expires := time.Now().Add(time.Hour)
	require.NoError(t, s.ActivateSession(ctx, "sess-1", core.Activation{Address: "10.0.0.4", ExpiresAt: expires}))
	require.NoError(t, s.ActivateSession(ctx, "sess-1", core.Activation{Address: "10.0.0.7", ExpiresAt: expires.Add(time.Hour)}))

	sess, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, expires.Equal(sess.ExpiresAt))
	assert.Equal(t, "10.0.0.7", sess.CurrentIP)
}

func TestUpdateSessionStatus(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	s.PutSession(core.Session{ID: "sess-1", Status: core.StatusActive})

	used := 101.0
	require.NoError(t, s.UpdateSessionStatus(ctx, "sess-1", core.StatusDataExceeded, "data cap exceeded", &used))

	sess, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusDataExceeded, sess.Status)
	assert.Equal(t, 101.0, sess.DataUsedMB)
	assert.NotNil(t, sess.DisconnectedAt)

	s.Fail("UpdateSessionStatus", errors.New("boom"))
	assert.Error(t, s.UpdateSessionStatus(ctx, "sess-1", core.StatusExpired, "", nil))
	s.Fail("UpdateSessionStatus", nil)
	assert.NoError(t, s.UpdateSessionStatus(ctx, "sess-1", core.StatusExpired, "", nil))
}

func TestListSessionsWithCap(t *testing.T) {
	t.Parallel()

	s := New()
	capMB := int64(100)
	s.PutSession(core.Session{ID: "a", TenantID: "t1", Status: core.StatusActive, DataCapMB: &capMB})
	s.PutSession(core.Session{ID: "b", TenantID: "t2", Status: core.StatusActive, DataCapMB: &capMB})
	s.PutSession(core.Session{ID: "c", TenantID: "t1", Status: core.StatusActive})
	s.PutSession(core.Session{ID: "d", TenantID: "t1", Status: core.StatusExpired, DataCapMB: &capMB})

	one, err := s.ListSessionsWithCap(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "a", one[0].ID)

	all, err := s.ListSessionsWithCap(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTenants(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateTenant(ctx, &core.Tenant{ID: "t1", Name: "Cafe", IsActive: true}))

	at := time.Now()
	require.NoError(t, s.UpdateTenantLastSeen(ctx, "t1", at))
	tenant, err := s.GetTenant(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, tenant.LastSeen)
	assert.True(t, at.Equal(*tenant.LastSeen))

	_, err = s.GetTenant(ctx, "t9")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
