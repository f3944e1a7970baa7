package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statementFor(t *testing.T, table string) string {
	t.Helper()
	for _, stmt := range schemaStatements {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS "+table+" ") {
			return stmt
		}
	}
	t.Fatalf("no create statement for table %s", table)
	return ""
}

// Emails are unique per organization, so one address can hold
// memberships in several orgs.
func TestUsersEmailUniquePerOrg(t *testing.T) {
	users := statementFor(t, "users")
	assert.Contains(t, users, "UNIQUE (org_id, email)")
	assert.NotContains(t, users, "email TEXT NOT NULL UNIQUE")
}

// Removing a member keeps their conversations with the org; only the
// ownership reference is cleared.
func TestConversationsSurviveMemberRemoval(t *testing.T) {
	conversations := statementFor(t, "conversations")
	assert.Contains(t, conversations, "user_id UUID REFERENCES users(id) ON DELETE SET NULL")
}

// Every org-scoped table cascades away with its organization.
func TestOrgScopedTablesCascade(t *testing.T) {
	for _, table := range []string{"users", "invites", "usage_counters", "documents", "conversations", "audit_log"} {
		stmt := statementFor(t, table)
		assert.Contains(t, stmt, "REFERENCES organizations(id) ON DELETE CASCADE", table)
	}
}

func TestRLSTablesAreCreated(t *testing.T) {
	require.NotEmpty(t, rlsTables)
	for _, table := range rlsTables {
		statementFor(t, table)
	}
}
