package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/leozw/hotspot-guardian/internal/core"
)

const sessionColumns = `
        id, tenant_id, mac_address, current_ip, ip_history, plan_id,
        status, expires_at, duration_hours, data_cap_mb, data_used_mb,
        speed_limit, checkout_request_id, remote_objects,
        termination_reason, disconnected_at, created_at, updated_at`

func (db *DB) CreateSession(ctx context.Context, sess *core.Session) error {
	now := time.Now().UTC()
	sess.CreatedAt, sess.UpdatedAt = now, now
	if sess.Status == "" {
		sess.Status = core.StatusPending
	}
	if sess.IPHistory == nil {
		sess.IPHistory = core.StringSlice{}
	}

	query := `
        INSERT INTO sessions (` + sessionColumns + `
        ) VALUES (
            :id, :tenant_id, :mac_address, :current_ip, :ip_history, :plan_id,
            :status, :expires_at, :duration_hours, :data_cap_mb, :data_used_mb,
            :speed_limit, :checkout_request_id, :remote_objects,
            :termination_reason, :disconnected_at, :created_at, :updated_at
        )`

	_, err := db.NamedExecContext(ctx, query, sess)
	return err
}

func (db *DB) getSession(ctx context.Context, where string, args ...interface{}) (*core.Session, error) {
	var sess core.Session
	query := `SELECT` + sessionColumns + `
        FROM sessions
        WHERE ` + where + `
        LIMIT 1`

	err := db.GetContext(ctx, &sess, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (db *DB) GetSession(ctx context.Context, id string) (*core.Session, error) {
	return db.getSession(ctx, `id = $1`, id)
}

// FindActiveSession returns the tenant's ACTIVE session for the client
// matching either mac or address.
func (db *DB) FindActiveSession(ctx context.Context, tenantID, mac, address string) (*core.Session, error) {
	return db.getSession(ctx, `tenant_id = $1 AND status = 'ACTIVE'
          AND (($2 <> '' AND mac_address = $2) OR ($3 <> '' AND current_ip = $3))
        ORDER BY created_at`, tenantID, mac, address)
}

func (db *DB) FindSessionByCheckoutID(ctx context.Context, checkoutID string) (*core.Session, error) {
	return db.getSession(ctx, `checkout_request_id = $1`, checkoutID)
}

// ActivateSession marks the session ACTIVE and records where it was granted.
// A changed address pushes the previous one onto the history. An already
// active session keeps its expiry.
func (db *DB) ActivateSession(ctx context.Context, id string, a core.Activation) error {
	query := `
        UPDATE sessions SET
            status = 'ACTIVE',
            mac_address = CASE WHEN $2 <> '' THEN $2 ELSE mac_address END,
            ip_history = CASE
                WHEN current_ip <> '' AND current_ip <> $3 THEN ip_history || to_jsonb(current_ip)
                ELSE ip_history END,
            current_ip = CASE WHEN $3 <> '' THEN $3 ELSE current_ip END,
            expires_at = CASE
                WHEN status = 'ACTIVE' AND expires_at IS NOT NULL THEN expires_at
                ELSE $4 END,
            remote_objects = $5,
            updated_at = NOW()
        WHERE id = $1`

	res, err := db.ExecContext(ctx, query, id, a.MACAddress, a.Address, a.ExpiresAt, a.RemoteObjects)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (db *DB) UpdateSessionStatus(ctx context.Context, id string, status core.SessionStatus, reason string, usedMB *float64) error {
	var disconnectedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		disconnectedAt = &now
	}
	var reasonArg sql.NullString
	if reason != "" {
		reasonArg = sql.NullString{String: reason, Valid: true}
	}

	query := `
        UPDATE sessions SET
            status = $2,
            termination_reason = COALESCE($3, termination_reason),
            data_used_mb = COALESCE($4, data_used_mb),
            disconnected_at = COALESCE($5, disconnected_at),
            updated_at = NOW()
        WHERE id = $1`

	res, err := db.ExecContext(ctx, query, id, string(status), reasonArg, usedMB, disconnectedAt)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (db *DB) UpdateSessionUsage(ctx context.Context, id string, usedMB float64) error {
	query := `UPDATE sessions SET data_used_mb = $2, updated_at = NOW() WHERE id = $1`
	res, err := db.ExecContext(ctx, query, id, usedMB)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (db *DB) DeleteSession(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// ListSessionsWithCap returns ACTIVE sessions with a data cap, for one
// tenant or all tenants when tenantID is empty.
func (db *DB) ListSessionsWithCap(ctx context.Context, tenantID string) ([]core.Session, error) {
	sessions := []core.Session{}
	query := `SELECT` + sessionColumns + `
        FROM sessions
        WHERE status = 'ACTIVE' AND data_cap_mb > 0
          AND ($1 = '' OR tenant_id = $1)
        ORDER BY created_at`

	err := db.SelectContext(ctx, &sessions, query, tenantID)
	return sessions, err
}

func (db *DB) ListActiveSessions(ctx context.Context) ([]core.Session, error) {
	sessions := []core.Session{}
	query := `SELECT` + sessionColumns + `
        FROM sessions
        WHERE status = 'ACTIVE'
        ORDER BY created_at`

	err := db.SelectContext(ctx, &sessions, query)
	return sessions, err
}

func (db *DB) DeleteSessionsCreatedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) CancelPendingSessionsBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
        UPDATE sessions SET
            status = 'CANCELLED',
            termination_reason = 'payment timeout',
            updated_at = NOW()
        WHERE status = 'PENDING' AND created_at < $1`

	res, err := db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
