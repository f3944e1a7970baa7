// Package audit records security-relevant actions per organization.
// The trail is append-only and org-scoped: listing goes through the
// same scoped transactions as every other tenant read.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/storage/postgres"
	"github.com/covebase/cove/pkg/tenant"
)

// Logger writes and reads the audit trail.
type Logger struct {
	db  *postgres.DB
	log *observability.Logger
}

// NewLogger creates an audit logger.
func NewLogger(db *postgres.DB, log *observability.Logger) *Logger {
	return &Logger{
		db:  db,
		log: log.WithComponent("audit"),
	}
}

// Record writes an entry attributed to the calling tenant.
func (l *Logger) Record(ctx context.Context, action string, details map[string]interface{}) error {
	tc, err := tenant.From(ctx)
	if err != nil {
		return err
	}
	userID := &tc.UserID
	if tc.UserID == uuid.Nil {
		userID = nil
	}
	return l.RecordForOrg(ctx, tc.OrgID, userID, action, details)
}

// RecordForOrg writes an entry for an explicit org. For billing webhook
// processing and background jobs, which act without a tenant context.
func (l *Logger) RecordForOrg(ctx context.Context, orgID uuid.UUID, userID *uuid.UUID, action string, details map[string]interface{}) error {
	var detailsJSON []byte
	if details != nil {
		var err error
		detailsJSON, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
	}

	err := l.db.InOrgID(ctx, orgID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_log (org_id, user_id, action, details)
			VALUES ($1, $2, $3, $4)`,
			orgID, userID, action, detailsJSON)
		if err != nil {
			return fmt.Errorf("failed to write audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.log.WithOrg(orgID.String()).WithField("action", action).Debug("audit entry recorded")
	return nil
}

// List returns the calling tenant's audit trail, newest first.
func (l *Logger) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	conditions := []string{"org_id = current_setting('app.current_org_id')::uuid"}
	args := []interface{}{}
	argCount := 0

	if filter.Action != "" {
		argCount++
		conditions = append(conditions, fmt.Sprintf("action = $%d", argCount))
		args = append(args, filter.Action)
	}
	if filter.UserID != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argCount))
		args = append(args, *filter.UserID)
	}
	if filter.Since != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argCount))
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argCount))
		args = append(args, *filter.Until)
	}

	argCount++
	args = append(args, limit)
	limitClause := fmt.Sprintf("LIMIT $%d", argCount)
	argCount++
	args = append(args, filter.Offset)
	offsetClause := fmt.Sprintf("OFFSET $%d", argCount)

	query := fmt.Sprintf(`
		SELECT id, org_id, user_id, action, details, created_at
		FROM audit_log
		WHERE %s
		ORDER BY created_at DESC
		%s %s`,
		strings.Join(conditions, " AND "), limitClause, offsetClause)

	var entries []*Entry
	err := l.db.InOrg(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to list audit entries: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			entry := &Entry{}
			var detailsJSON []byte
			if err := rows.Scan(&entry.ID, &entry.OrgID, &entry.UserID,
				&entry.Action, &detailsJSON, &entry.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan audit entry: %w", err)
			}
			if len(detailsJSON) > 0 {
				if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
					return fmt.Errorf("failed to unmarshal audit details: %w", err)
				}
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
