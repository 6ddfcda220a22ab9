package postgres_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/hotspot-guardian/internal/core"
	"github.com/leozw/hotspot-guardian/internal/storage/postgres"
)

func newMock(t *testing.T) (*postgres.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})
	return postgres.New(sqlx.NewDb(conn, "postgres")), mock
}

var sessionCols = []string{
	"id", "tenant_id", "mac_address", "current_ip", "ip_history", "plan_id",
	"status", "expires_at", "duration_hours", "data_cap_mb", "data_used_mb",
	"speed_limit", "checkout_request_id", "remote_objects",
	"termination_reason", "disconnected_at", "created_at", "updated_at",
}

func TestGetSession(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	created := expires.Add(-24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions")).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow(
			"sess-1", "t1", "AA:BB:CC:DD:EE:FF", "10.0.0.5", []byte(`["10.0.0.4"]`), "plan-day",
			"ACTIVE", expires, 24, int64(500), 12.5,
			"5M/5M", "ws_CO_1", []byte(`{"binding_address":"10.0.0.5","data_cap_meter":"datacap-sess-1"}`),
			nil, nil, created, created,
		))

	sess, err := db.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, sess.Status)
	assert.Equal(t, core.StringSlice{"10.0.0.4"}, sess.IPHistory)
	require.NotNil(t, sess.DataCapMB)
	assert.Equal(t, int64(500), *sess.DataCapMB)
	require.NotNil(t, sess.SpeedLimit)
	assert.Equal(t, "5M/5M", *sess.SpeedLimit)
	assert.Equal(t, "datacap-sess-1", sess.RemoteObjects.DataCapMeter)
	assert.Nil(t, sess.TerminationReason)
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(sessionCols))

	_, err := db.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestActivateSession(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	expires := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	objects := core.RemoteObjects{BindingAddress: "10.0.0.5", DataCapMeter: "datacap-sess-1"}

	mock.ExpectExec(`(?s)UPDATE sessions SET.*WHEN status = 'ACTIVE' AND expires_at IS NOT NULL THEN expires_at`).
		WithArgs("sess-1", "AA:BB:CC:DD:EE:FF", "10.0.0.5", expires, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET")).
		WithArgs("gone", "", "10.0.0.5", expires, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.ActivateSession(context.Background(), "sess-1", core.Activation{
		MACAddress: "AA:BB:CC:DD:EE:FF", Address: "10.0.0.5", ExpiresAt: expires, RemoteObjects: objects,
	}))
	err := db.ActivateSession(context.Background(), "gone", core.Activation{Address: "10.0.0.5", ExpiresAt: expires})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdateSessionStatus(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	used := 101.0

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET")).
		WithArgs("sess-1", "DATA_EXCEEDED", "data cap exceeded", used, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.UpdateSessionStatus(context.Background(), "sess-1", core.StatusDataExceeded, "data cap exceeded", &used))
}

func TestListSessionsWithCap(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("data_cap_mb > 0")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow("a", "t1", "", "10.0.0.5", []byte(`[]`), "", "ACTIVE", now, 1, int64(100), 0.0, nil, nil, []byte(`{}`), nil, nil, now, now).
			AddRow("b", "t1", "", "10.0.0.6", []byte(`[]`), "", "ACTIVE", now, 1, int64(200), 0.0, nil, nil, []byte(`{}`), nil, nil, now, now))

	sessions, err := db.ListSessionsWithCap(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.True(t, sessions[1].HasCap())
}

func TestRetentionQueries(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	cutoff := time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE created_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("status = 'CANCELLED'")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err := db.DeleteSessionsCreatedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	cancelled, err := db.CancelPendingSessionsBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cancelled)
}

func TestTenantQueries(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM tenants")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "router_host", "router_port", "router_user", "router_password",
			"transport", "use_tls", "is_active", "last_seen", "created_at", "updated_at",
		}).AddRow("t1", "Cafe", "192.0.2.1", 8728, "api", "aa:bb:cc", "api", false, true, nil, now, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tenants SET last_seen")).
		WithArgs("t1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM tenants")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	tenant, err := db.GetTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", tenant.RouterHost)
	assert.Equal(t, 8728, tenant.RouterPort)
	assert.True(t, tenant.IsActive)

	require.NoError(t, db.UpdateTenantLastSeen(context.Background(), "t1", now))

	_, err = db.GetTenant(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
