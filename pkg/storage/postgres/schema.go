package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements creates all tables and installs row-level security.
// Statements are idempotent so startup can run them unconditionally.
//
// Org-scoped tables carry an org_id column and an RLS policy comparing
// it against the app.current_org_id setting bound by DB.InOrgID.
// Messages have no org_id of their own; their policy goes through the
// owning conversation.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		plan TEXT NOT NULL DEFAULT 'free' CHECK (plan IN ('free', 'pro', 'enterprise')),
		logo_url TEXT,
		billing_customer_id TEXT,
		billing_subscription_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_organizations_subscription
		ON organizations(billing_subscription_id)`,

	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('owner', 'admin', 'member')),
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (org_id, email)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_org ON users(org_id)`,

	`CREATE TABLE IF NOT EXISTS invites (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		email TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('admin', 'member')),
		token TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'accepted', 'revoked', 'expired')),
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invites_org ON invites(org_id)`,

	`CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		uploaded_by UUID REFERENCES users(id) ON DELETE SET NULL,
		filename TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		size_bytes BIGINT NOT NULL DEFAULT 0,
		storage_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'processing' CHECK (status IN ('processing', 'ready', 'failed')),
		chunk_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_org ON documents(org_id)`,

	`CREATE TABLE IF NOT EXISTS document_chunks (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		search_vector TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (document_id, chunk_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_document_chunks_search
		ON document_chunks USING GIN (search_vector)`,
	`CREATE INDEX IF NOT EXISTS idx_document_chunks_org ON document_chunks(org_id)`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		user_id UUID REFERENCES users(id) ON DELETE SET NULL,
		title TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_org ON conversations(org_id)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
		content TEXT NOT NULL,
		sources JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,

	`CREATE TABLE IF NOT EXISTS usage_counters (
		id UUID PRIMARY KEY,
		org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		period TEXT NOT NULL,
		ai_queries INTEGER NOT NULL DEFAULT 0,
		documents_uploaded INTEGER NOT NULL DEFAULT 0,
		seats_used INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (org_id, period)
	)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		user_id UUID,
		action TEXT NOT NULL,
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_org_created
		ON audit_log(org_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS billing_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS password_reset_tokens (
		token TEXT PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at TIMESTAMPTZ NOT NULL,
		used BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// rlsTables lists the tables whose rows belong directly to an org.
var rlsTables = []string{
	"users",
	"invites",
	"documents",
	"document_chunks",
	"conversations",
	"usage_counters",
	"audit_log",
}

// EnsureSchema creates all tables, enables row-level security and
// installs the isolation policies. Safe to run at every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	for _, table := range rlsTables {
		stmts := []string{
			fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table),
			fmt.Sprintf("DROP POLICY IF EXISTS %s_org_isolation ON %s", table, table),
			fmt.Sprintf(
				`CREATE POLICY %s_org_isolation ON %s
					USING (org_id::text = current_setting('app.current_org_id', true))`,
				table, table),
		}
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to install RLS policy on %s: %w", table, err)
			}
		}
	}

	// Messages carry no org_id; isolate them through the owning
	// conversation.
	messagePolicy := []string{
		"ALTER TABLE messages ENABLE ROW LEVEL SECURITY",
		"DROP POLICY IF EXISTS messages_org_isolation ON messages",
		`CREATE POLICY messages_org_isolation ON messages
			USING (conversation_id IN (
				SELECT id FROM conversations
				WHERE org_id::text = current_setting('app.current_org_id', true)
			))`,
	}
	for _, stmt := range messagePolicy {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to install RLS policy on messages: %w", err)
		}
	}

	return nil
}
