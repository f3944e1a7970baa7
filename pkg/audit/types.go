package audit

import (
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the audit trail.
const (
	ActionLimitHit             = "limit_hit"
	ActionPlanChanged          = "plan_changed"
	ActionSubscriptionCanceled = "subscription_canceled"
	ActionPaymentFailed        = "payment_failed"
	ActionCheckoutStarted      = "checkout_started"
	ActionMemberInvited        = "member_invited"
	ActionMemberRemoved        = "member_removed"
	ActionMemberRoleChanged    = "member_role_changed"
	ActionInviteRevoked        = "invite_revoked"
	ActionDocumentUploaded     = "document_uploaded"
	ActionDocumentDeleted      = "document_deleted"
	ActionOrgUpdated           = "org_updated"
	ActionPasswordChanged      = "password_changed"
)

// Entry is one recorded action.
type Entry struct {
	ID        int64                  `json:"id"`
	OrgID     uuid.UUID              `json:"org_id"`
	UserID    *uuid.UUID             `json:"user_id,omitempty"`
	Action    string                 `json:"action"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Filter narrows an audit trail listing. Zero values mean "no
// constraint". Limit defaults to 50 and is capped at 500.
type Filter struct {
	Action string
	UserID *uuid.UUID
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}
