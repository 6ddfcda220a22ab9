package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/leozw/hotspot-guardian/internal/core"
)

const tenantColumns = `
        id, name, router_host, router_port, router_user, router_password,
        transport, use_tls, is_active, last_seen, created_at, updated_at`

func (db *DB) CreateTenant(ctx context.Context, tenant *core.Tenant) error {
	query := `
        INSERT INTO tenants (` + tenantColumns + `
        ) VALUES (
            :id, :name, :router_host, :router_port, :router_user, :router_password,
            :transport, :use_tls, :is_active, :last_seen, :created_at, :updated_at
        )`

	_, err := db.NamedExecContext(ctx, query, tenant)
	return err
}

func (db *DB) GetTenant(ctx context.Context, id string) (*core.Tenant, error) {
	var tenant core.Tenant
	query := `SELECT` + tenantColumns + `
        FROM tenants
        WHERE id = $1`

	err := db.GetContext(ctx, &tenant, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &tenant, nil
}

func (db *DB) UpdateTenantLastSeen(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE tenants SET last_seen = $2, updated_at = $2 WHERE id = $1`
	res, err := db.ExecContext(ctx, query, id, at)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}
