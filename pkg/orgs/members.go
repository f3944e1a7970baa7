package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/tenant"
)

const userColumns = `id, org_id, email, password_hash, full_name, role, is_verified, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.OrgID, &u.Email, &u.PasswordHash,
		&u.FullName, &u.Role, &u.IsVerified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByEmail looks a user up across all orgs. Only for the login
// path, which runs before any tenant context exists.
func (s *PostgresService) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user *User
	err := s.db.System(ctx, func(tx *sql.Tx) error {
		var err error
		user, err = scanUser(tx.QueryRowContext(ctx,
			"SELECT "+userColumns+" FROM users WHERE email = $1", email))
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get user by email: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID resolves a user from a token subject. Runs unscoped
// because it is what establishes the tenant context in the first place.
func (s *PostgresService) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var user *User
	err := s.db.System(ctx, func(tx *sql.Tx) error {
		var err error
		user, err = scanUser(tx.QueryRowContext(ctx,
			"SELECT "+userColumns+" FROM users WHERE id = $1", id))
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ListMembers returns all members of the calling tenant's org.
func (s *PostgresService) ListMembers(ctx context.Context) ([]*User, error) {
	var members []*User
	err := s.db.InOrg(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT "+userColumns+" FROM users WHERE org_id = current_setting('app.current_org_id')::uuid ORDER BY created_at")
		if err != nil {
			return fmt.Errorf("failed to list members: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return fmt.Errorf("failed to scan member: %w", err)
			}
			members = append(members, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// UpdateMemberRole changes a member's role. The owner role is not
// assignable this way and the current owner cannot be demoted.
func (s *PostgresService) UpdateMemberRole(ctx context.Context, userID uuid.UUID, role string) error {
	if role != RoleAdmin && role != RoleMember {
		return fmt.Errorf("invalid role: %q", role)
	}

	return s.db.InOrg(ctx, func(tx *sql.Tx) error {
		var currentRole string
		err := tx.QueryRowContext(ctx,
			"SELECT role FROM users WHERE id = $1", userID).Scan(&currentRole)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get member: %w", err)
		}
		if currentRole == RoleOwner {
			return fmt.Errorf("cannot change the owner's role")
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE users SET role = $1, updated_at = NOW() WHERE id = $2", role, userID); err != nil {
			return fmt.Errorf("failed to update member role: %w", err)
		}
		return nil
	})
}

// RemoveMember deletes a member and releases their seat. The owner
// cannot be removed, and callers cannot remove themselves.
func (s *PostgresService) RemoveMember(ctx context.Context, userID uuid.UUID) error {
	tc, err := tenant.From(ctx)
	if err != nil {
		return err
	}
	if tc.UserID == userID {
		return fmt.Errorf("cannot remove yourself")
	}

	return s.db.InOrg(ctx, func(tx *sql.Tx) error {
		var role string
		err := tx.QueryRowContext(ctx,
			"SELECT role FROM users WHERE id = $1", userID).Scan(&role)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get member: %w", err)
		}
		if role == RoleOwner {
			return fmt.Errorf("cannot remove the owner")
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = $1", userID); err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE usage_counters
			SET seats_used = GREATEST(seats_used - 1, 0), updated_at = NOW()
			WHERE org_id = $1 AND period = $2`,
			tc.OrgID, currentPeriod(time.Now())); err != nil {
			return fmt.Errorf("failed to release seat: %w", err)
		}
		return nil
	})
}

// UpdatePassword replaces a user's password hash.
func (s *PostgresService) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	return s.db.System(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2",
			passwordHash, userID)
		if err != nil {
			return fmt.Errorf("failed to update password: %w", err)
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
