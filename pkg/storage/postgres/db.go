package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/tenant"
)

// DB is the single entry point for database transactions. Org-scoped
// queries only run through InOrg/InOrgID, which bind the organization
// to the transaction before any statement executes; the row-level
// security policies installed by EnsureSchema use that binding as a
// second enforcement layer underneath the query predicates.
type DB struct {
	sql *sql.DB
}

// NewDB wraps an open connection pool.
func NewDB(sqlDB *sql.DB) *DB {
	return &DB{sql: sqlDB}
}

// Raw exposes the underlying pool for health checks and schema setup.
func (d *DB) Raw() *sql.DB {
	return d.sql
}

// Close closes the underlying pool.
func (d *DB) Close() error {
	return d.sql.Close()
}

// InOrg runs fn inside a transaction scoped to the tenant carried in
// ctx. Returns tenant.ErrNoTenant when the context has no tenant: a
// scoped query without a tenant is a bug in the call path and must not
// silently run unscoped.
func (d *DB) InOrg(ctx context.Context, fn func(*sql.Tx) error) error {
	tc, err := tenant.From(ctx)
	if err != nil {
		return err
	}
	return d.InOrgID(ctx, tc.OrgID, fn)
}

// InOrgID runs fn inside a transaction scoped to an explicit
// organization. For webhook processing and background jobs, which act
// on behalf of an org without a request-derived tenant context.
//
// The binding uses SET LOCAL semantics: it is reverted when the
// transaction ends, so a pooled connection never carries a stale org
// into the next transaction.
func (d *DB) InOrgID(ctx context.Context, orgID uuid.UUID, fn func(*sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"SELECT set_config('app.current_org_id', $1, true)", orgID.String()); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to bind org to transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// System runs fn inside a transaction with no org binding. Only for
// tables that are not org-scoped (organizations, billing_events,
// password reset tokens) and for cross-tenant resolution such as login
// by email or resolving an org from a subscription ID.
func (d *DB) System(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
