package orgs

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/plans"
	"github.com/covebase/cove/pkg/storage/postgres"
)

// PostgresService implements Service using PostgreSQL
type PostgresService struct {
	db     *postgres.DB
	logger *observability.Logger
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *postgres.DB, logger *observability.Logger) *PostgresService {
	return &PostgresService{
		db:     db,
		logger: logger.WithComponent("orgs"),
	}
}

const orgColumns = `id, name, slug, plan, logo_url, billing_customer_id, billing_subscription_id, created_at, updated_at`

func scanOrg(row interface{ Scan(...interface{}) error }) (*Organization, error) {
	org := &Organization{}
	err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.Plan, &org.LogoURL,
		&org.BillingCustomerID, &org.BillingSubscriptionID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return org, nil
}

// CreateOrganization creates a new organization together with its
// owner in one transaction. The slug is derived from the name and
// uniquified with a numeric suffix on collision.
func (s *PostgresService) CreateOrganization(ctx context.Context, req *CreateOrgRequest, ownerPasswordHash string) (*Organization, *User, error) {
	if req.Name == "" {
		return nil, nil, fmt.Errorf("organization name is required")
	}
	if req.OwnerEmail == "" {
		return nil, nil, fmt.Errorf("owner email is required")
	}

	var org *Organization
	var owner *User

	err := s.db.System(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)", req.OwnerEmail).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check owner email: %w", err)
		}
		if exists {
			return ErrDuplicateEmail
		}

		slug, err := uniqueSlug(ctx, tx, generateSlug(req.Name))
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		org = &Organization{
			ID:        uuid.New(),
			Name:      req.Name,
			Slug:      slug,
			Plan:      plans.TierFree,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO organizations (id, name, slug, plan, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			org.ID, org.Name, org.Slug, org.Plan, org.CreatedAt, org.UpdatedAt); err != nil {
			return fmt.Errorf("failed to create organization: %w", err)
		}

		owner = &User{
			ID:           uuid.New(),
			OrgID:        org.ID,
			Email:        req.OwnerEmail,
			PasswordHash: ownerPasswordHash,
			FullName:     req.OwnerName,
			Role:         RoleOwner,
			IsVerified:   true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, org_id, email, password_hash, full_name, role, is_verified, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			owner.ID, owner.OrgID, owner.Email, owner.PasswordHash,
			owner.FullName, owner.Role, owner.IsVerified, owner.CreatedAt, owner.UpdatedAt); err != nil {
			return fmt.Errorf("failed to create owner: %w", err)
		}

		// The owner occupies the first seat.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO usage_counters (id, org_id, period, seats_used)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (org_id, period) DO UPDATE SET seats_used = usage_counters.seats_used + 1`,
			uuid.New(), org.ID, currentPeriod(now)); err != nil {
			return fmt.Errorf("failed to initialize usage counters: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.WithOrg(org.ID.String()).WithField("slug", org.Slug).Info("organization created")
	return org, owner, nil
}

// uniqueSlug appends -2, -3, ... until the slug is free.
func uniqueSlug(ctx context.Context, tx *sql.Tx, base string) (string, error) {
	if base == "" {
		base = "org"
	}
	slug := base
	for i := 2; ; i++ {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM organizations WHERE slug = $1)", slug).Scan(&exists); err != nil {
			return "", fmt.Errorf("failed to check slug: %w", err)
		}
		if !exists {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

// GetOrganization retrieves an organization by ID
func (s *PostgresService) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	var org *Organization
	err := s.db.System(ctx, func(tx *sql.Tx) error {
		var err error
		org, err = scanOrg(tx.QueryRowContext(ctx,
			"SELECT "+orgColumns+" FROM organizations WHERE id = $1", id))
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get organization: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganizationBySlug retrieves an organization by slug
func (s *PostgresService) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	var org *Organization
	err := s.db.System(ctx, func(tx *sql.Tx) error {
		var err error
		org, err = scanOrg(tx.QueryRowContext(ctx,
			"SELECT "+orgColumns+" FROM organizations WHERE slug = $1", slug))
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get organization by slug: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganizationBySubscription resolves an org from a billing
// subscription ID. Used by subscription webhook events, which carry no
// org metadata of their own.
func (s *PostgresService) GetOrganizationBySubscription(ctx context.Context, subscriptionID string) (*Organization, error) {
	var org *Organization
	err := s.db.System(ctx, func(tx *sql.Tx) error {
		var err error
		org, err = scanOrg(tx.QueryRowContext(ctx,
			"SELECT "+orgColumns+" FROM organizations WHERE billing_subscription_id = $1", subscriptionID))
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get organization by subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// UpdateOrganization updates mutable settings of an organization
func (s *PostgresService) UpdateOrganization(ctx context.Context, id uuid.UUID, req *UpdateOrgRequest) (*Organization, error) {
	var org *Organization
	err := s.db.System(ctx, func(tx *sql.Tx) error {
		setParts := []string{"updated_at = NOW()"}
		args := []interface{}{}
		argCount := 0

		if req.Name != nil {
			argCount++
			setParts = append(setParts, fmt.Sprintf("name = $%d", argCount))
			args = append(args, *req.Name)
		}
		if req.LogoURL != nil {
			argCount++
			setParts = append(setParts, fmt.Sprintf("logo_url = $%d", argCount))
			args = append(args, *req.LogoURL)
		}

		argCount++
		args = append(args, id)
		query := fmt.Sprintf("UPDATE organizations SET %s WHERE id = $%d RETURNING %s",
			strings.Join(setParts, ", "), argCount, orgColumns)

		var err error
		org, err = scanOrg(tx.QueryRowContext(ctx, query, args...))
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to update organization: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// SetPlan moves an organization to a plan and records its billing
// identifiers. Nil customerID/subscriptionID leave the stored values
// untouched.
func (s *PostgresService) SetPlan(ctx context.Context, id uuid.UUID, plan plans.Tier, customerID, subscriptionID *string) error {
	if !plans.Valid(plan) {
		return fmt.Errorf("unknown plan tier: %q", plan)
	}

	return s.db.System(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE organizations
			SET plan = $1,
			    billing_customer_id = COALESCE($2, billing_customer_id),
			    billing_subscription_id = COALESCE($3, billing_subscription_id),
			    updated_at = NOW()
			WHERE id = $4`,
			plan, customerID, subscriptionID, id)
		if err != nil {
			return fmt.Errorf("failed to set plan: %w", err)
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

// ClearSubscription drops an org back to the free plan and detaches
// its subscription. Applied on subscription deletion regardless of the
// org's current state.
func (s *PostgresService) ClearSubscription(ctx context.Context, id uuid.UUID) error {
	return s.db.System(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE organizations
			SET plan = $1, billing_subscription_id = NULL, updated_at = NOW()
			WHERE id = $2`,
			plans.TierFree, id)
		if err != nil {
			return fmt.Errorf("failed to clear subscription: %w", err)
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

// DeleteOrganization removes an org and, through foreign keys, every
// record scoped to it. Owner-initiated; callers enforce the role check.
func (s *PostgresService) DeleteOrganization(ctx context.Context, id uuid.UUID) error {
	return s.db.System(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM organizations WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete organization: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		s.logger.WithOrg(id.String()).Info("organization deleted")
		return nil
	})
}

// CreatePasswordReset issues a single-use reset token valid for one hour.
func (s *PostgresService) CreatePasswordReset(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	err = s.db.System(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO password_reset_tokens (token, user_id, expires_at)
			VALUES ($1, $2, $3)`,
			token, userID, time.Now().UTC().Add(time.Hour))
		if err != nil {
			return fmt.Errorf("failed to create password reset: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// ConsumePasswordReset redeems a reset token. Expired or already-used
// tokens return ErrNotFound; valid tokens are marked used atomically.
func (s *PostgresService) ConsumePasswordReset(ctx context.Context, token string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := s.db.System(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE password_reset_tokens
			SET used = TRUE
			WHERE token = $1 AND used = FALSE AND expires_at > NOW()
			RETURNING user_id`,
			token).Scan(&userID)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to consume password reset: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}

// currentPeriod formats a timestamp as the usage period it falls in.
func currentPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// generateSlug converts an org name to a URL-safe slug
func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return strings.Trim(slug, "-")
}

// generateToken generates a random token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
