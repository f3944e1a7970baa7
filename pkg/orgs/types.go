package orgs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/plans"
)

// ErrNotFound is returned when an organization, member or invite does
// not exist (or is invisible to the calling tenant, which is the same
// thing).
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when an email address is already taken
// by an existing user or a pending invite.
var ErrDuplicateEmail = errors.New("email already in use")

// Member roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Invite statuses.
const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusRevoked  = "revoked"
	InviteStatusExpired  = "expired"
)

// InviteTTL is how long an invite stays redeemable.
const InviteTTL = 7 * 24 * time.Hour

// Organization is the tenancy root. Everything else in the system
// hangs off an org.
type Organization struct {
	ID                    uuid.UUID  `json:"id"`
	Name                  string     `json:"name"`
	Slug                  string     `json:"slug"`
	Plan                  plans.Tier `json:"plan"`
	LogoURL               *string    `json:"logo_url,omitempty"`
	BillingCustomerID     *string    `json:"-"`
	BillingSubscriptionID *string    `json:"-"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// User is a member of exactly one organization.
type User struct {
	ID           uuid.UUID `json:"id"`
	OrgID        uuid.UUID `json:"org_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Role         string    `json:"role"`
	IsVerified   bool      `json:"is_verified"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Invite is a pending offer of membership.
type Invite struct {
	ID        uuid.UUID `json:"id"`
	OrgID     uuid.UUID `json:"org_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Token     string    `json:"-"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the invite's redemption window has passed.
func (i *Invite) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// CreateOrgRequest creates a new organization with its owner.
type CreateOrgRequest struct {
	Name       string `json:"name"`
	OwnerEmail string `json:"owner_email"`
	OwnerName  string `json:"owner_name"`
}

// UpdateOrgRequest updates mutable org settings.
type UpdateOrgRequest struct {
	Name    *string `json:"name,omitempty"`
	LogoURL *string `json:"logo_url,omitempty"`
}

// Service defines organization, membership and invite operations.
// Methods without an explicit org parameter are scoped by the tenant
// context; the rest resolve tenancy themselves (registration, login,
// billing webhooks).
type Service interface {
	// Organizations
	CreateOrganization(ctx context.Context, req *CreateOrgRequest, ownerPasswordHash string) (*Organization, *User, error)
	GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error)
	GetOrganizationBySubscription(ctx context.Context, subscriptionID string) (*Organization, error)
	UpdateOrganization(ctx context.Context, id uuid.UUID, req *UpdateOrgRequest) (*Organization, error)
	SetPlan(ctx context.Context, id uuid.UUID, plan plans.Tier, customerID, subscriptionID *string) error
	ClearSubscription(ctx context.Context, id uuid.UUID) error
	DeleteOrganization(ctx context.Context, id uuid.UUID) error

	// Members
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	ListMembers(ctx context.Context) ([]*User, error)
	UpdateMemberRole(ctx context.Context, userID uuid.UUID, role string) error
	RemoveMember(ctx context.Context, userID uuid.UUID) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error

	// Invites
	CreateInvite(ctx context.Context, email, role string) (*Invite, error)
	ListInvites(ctx context.Context) ([]*Invite, error)
	RevokeInvite(ctx context.Context, inviteID uuid.UUID) error
	GetInviteByToken(ctx context.Context, token string) (*Invite, error)
	AcceptInvite(ctx context.Context, token, passwordHash, fullName string) (*User, error)
	ExpireStaleInvites(ctx context.Context) (int64, error)

	// Password resets
	CreatePasswordReset(ctx context.Context, userID uuid.UUID) (string, error)
	ConsumePasswordReset(ctx context.Context, token string) (uuid.UUID, error)
}
