package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const inviteColumns = `id, org_id, email, role, token, status, expires_at, created_at`

func scanInvite(row interface{ Scan(...interface{}) error }) (*Invite, error) {
	inv := &Invite{}
	err := row.Scan(&inv.ID, &inv.OrgID, &inv.Email, &inv.Role,
		&inv.Token, &inv.Status, &inv.ExpiresAt, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// CreateInvite issues a pending invite for the calling tenant's org.
// Rejects addresses that already belong to a member or have a pending
// invite in this org (row-level security scopes both lookups).
func (s *PostgresService) CreateInvite(ctx context.Context, email, role string) (*Invite, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if role != RoleAdmin && role != RoleMember {
		return nil, fmt.Errorf("invalid role: %q", role)
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invite token: %w", err)
	}

	var invite *Invite
	err = s.db.InOrg(ctx, func(tx *sql.Tx) error {
		var taken bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)
			    OR EXISTS(SELECT 1 FROM invites WHERE email = $1 AND status = $2)`,
			email, InviteStatusPending).Scan(&taken); err != nil {
			return fmt.Errorf("failed to check invite email: %w", err)
		}
		if taken {
			return ErrDuplicateEmail
		}

		now := time.Now().UTC()
		row := tx.QueryRowContext(ctx, `
			INSERT INTO invites (id, org_id, email, role, token, status, expires_at, created_at)
			VALUES ($1, current_setting('app.current_org_id')::uuid, $2, $3, $4, $5, $6, $7)
			RETURNING `+inviteColumns,
			uuid.New(), email, role, token, InviteStatusPending, now.Add(InviteTTL), now)

		var err error
		invite, err = scanInvite(row)
		if err != nil {
			return fmt.Errorf("failed to create invite: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invite, nil
}

// ListInvites returns all invites for the calling tenant's org.
func (s *PostgresService) ListInvites(ctx context.Context) ([]*Invite, error) {
	var invites []*Invite
	err := s.db.InOrg(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT "+inviteColumns+" FROM invites WHERE org_id = current_setting('app.current_org_id')::uuid ORDER BY created_at DESC")
		if err != nil {
			return fmt.Errorf("failed to list invites: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			inv, err := scanInvite(rows)
			if err != nil {
				return fmt.Errorf("failed to scan invite: %w", err)
			}
			invites = append(invites, inv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return invites, nil
}

// RevokeInvite marks a pending invite revoked.
func (s *PostgresService) RevokeInvite(ctx context.Context, inviteID uuid.UUID) error {
	return s.db.InOrg(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"UPDATE invites SET status = $1 WHERE id = $2 AND status = $3",
			InviteStatusRevoked, inviteID, InviteStatusPending)
		if err != nil {
			return fmt.Errorf("failed to revoke invite: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetInviteByToken looks up an invite for the unauthenticated accept
// flow. The token is the capability; no tenant context exists yet.
func (s *PostgresService) GetInviteByToken(ctx context.Context, token string) (*Invite, error) {
	var invite *Invite
	err := s.db.System(ctx, func(tx *sql.Tx) error {
		var err error
		invite, err = scanInvite(tx.QueryRowContext(ctx,
			"SELECT "+inviteColumns+" FROM invites WHERE token = $1", token))
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get invite: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invite, nil
}

// AcceptInvite redeems a pending invite: creates the user, takes a
// seat and marks the invite accepted, all in one transaction. Expired
// invites are marked as such and rejected.
func (s *PostgresService) AcceptInvite(ctx context.Context, token, passwordHash, fullName string) (*User, error) {
	var user *User
	err := s.db.System(ctx, func(tx *sql.Tx) error {
		invite, err := scanInvite(tx.QueryRowContext(ctx,
			"SELECT "+inviteColumns+" FROM invites WHERE token = $1 FOR UPDATE", token))
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get invite: %w", err)
		}

		if invite.Status != InviteStatusPending {
			return fmt.Errorf("invite is %s", invite.Status)
		}

		now := time.Now().UTC()
		if invite.Expired(now) {
			if _, err := tx.ExecContext(ctx,
				"UPDATE invites SET status = $1 WHERE id = $2",
				InviteStatusExpired, invite.ID); err != nil {
				return fmt.Errorf("failed to expire invite: %w", err)
			}
			return fmt.Errorf("invite has expired")
		}

		// Emails are unique per org, so only a member of this org
		// blocks acceptance. The same address can join other orgs.
		var taken bool
		if err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE org_id = $1 AND email = $2)",
			invite.OrgID, invite.Email).Scan(&taken); err != nil {
			return fmt.Errorf("failed to check email: %w", err)
		}
		if taken {
			return ErrDuplicateEmail
		}

		user = &User{
			ID:           uuid.New(),
			OrgID:        invite.OrgID,
			Email:        invite.Email,
			PasswordHash: passwordHash,
			FullName:     fullName,
			Role:         invite.Role,
			IsVerified:   true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, org_id, email, password_hash, full_name, role, is_verified, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			user.ID, user.OrgID, user.Email, user.PasswordHash,
			user.FullName, user.Role, user.IsVerified, user.CreatedAt, user.UpdatedAt); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO usage_counters (id, org_id, period, seats_used)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (org_id, period) DO UPDATE SET seats_used = usage_counters.seats_used + 1`,
			uuid.New(), invite.OrgID, currentPeriod(now)); err != nil {
			return fmt.Errorf("failed to take seat: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE invites SET status = $1 WHERE id = $2",
			InviteStatusAccepted, invite.ID); err != nil {
			return fmt.Errorf("failed to mark invite accepted: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithOrg(user.OrgID.String()).WithField("role", user.Role).Info("invite accepted")
	return user, nil
}

// ExpireStaleInvites marks all overdue pending invites expired.
// Run periodically by the maintenance scheduler.
func (s *PostgresService) ExpireStaleInvites(ctx context.Context) (int64, error) {
	var expired int64
	err := s.db.System(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"UPDATE invites SET status = $1 WHERE status = $2 AND expires_at < NOW()",
			InviteStatusExpired, InviteStatusPending)
		if err != nil {
			return fmt.Errorf("failed to expire invites: %w", err)
		}
		expired, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}
