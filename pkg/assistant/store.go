package assistant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/storage/postgres"
	"github.com/covebase/cove/pkg/tenant"
)

const conversationColumns = `id, org_id, user_id, title, created_at, updated_at`

func scanConversation(row interface{ Scan(...interface{}) error }) (*Conversation, error) {
	c := &Conversation{}
	err := row.Scan(&c.ID, &c.OrgID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Store persists conversations and messages. Messages carry no org
// column; their scope predicate runs through the owning conversation.
type Store struct {
	db     *postgres.DB
	logger *observability.Logger
}

// NewStore creates a conversation store.
func NewStore(db *postgres.DB, logger *observability.Logger) *Store {
	return &Store{db: db, logger: logger.WithComponent("assistant")}
}

// CreateConversation starts a thread for the calling user, titled with
// the start of its first query.
func (s *Store) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	tc, err := tenant.From(ctx)
	if err != nil {
		return nil, err
	}
	if runes := []rune(title); len(runes) > titleLimit {
		title = string(runes[:titleLimit])
	}

	var conv *Conversation
	err = s.db.InOrg(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		row := tx.QueryRowContext(ctx, `
			INSERT INTO conversations (id, org_id, user_id, title, created_at, updated_at)
			VALUES ($1, current_setting('app.current_org_id')::uuid, $2, $3, $4, $4)
			RETURNING `+conversationColumns,
			uuid.New(), tc.UserID, title, now)

		var scanErr error
		conv, scanErr = scanConversation(row)
		if scanErr != nil {
			return fmt.Errorf("failed to create conversation: %w", scanErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation returns one conversation owned by the calling user.
func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	tc, err := tenant.From(ctx)
	if err != nil {
		return nil, err
	}

	var conv *Conversation
	err = s.db.InOrg(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT "+conversationColumns+` FROM conversations
			 WHERE id = $1 AND user_id = $2 AND org_id = current_setting('app.current_org_id')::uuid`,
			id, tc.UserID)

		var scanErr error
		conv, scanErr = scanConversation(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return ErrNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("failed to get conversation: %w", scanErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns the calling user's threads, newest first.
func (s *Store) ListConversations(ctx context.Context) ([]*Conversation, error) {
	tc, err := tenant.From(ctx)
	if err != nil {
		return nil, err
	}

	var convs []*Conversation
	err = s.db.InOrg(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT "+conversationColumns+` FROM conversations
			 WHERE user_id = $1 AND org_id = current_setting('app.current_org_id')::uuid
			 ORDER BY updated_at DESC`, tc.UserID)
		if err != nil {
			return fmt.Errorf("failed to list conversations: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			conv, err := scanConversation(rows)
			if err != nil {
				return fmt.Errorf("failed to scan conversation: %w", err)
			}
			convs = append(convs, conv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// DeleteConversation removes a thread and, by cascade, its messages.
func (s *Store) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	tc, err := tenant.From(ctx)
	if err != nil {
		return err
	}

	return s.db.InOrg(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM conversations
			 WHERE id = $1 AND user_id = $2 AND org_id = current_setting('app.current_org_id')::uuid`,
			id, tc.UserID)
		if err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
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

// AppendMessage adds a turn to a conversation. The conversation
// subquery carries the org scope for the message row.
func (s *Store) AppendMessage(ctx context.Context, conversationID uuid.UUID, role, content string, sources []Source) (*Message, error) {
	var sourcesJSON interface{}
	if len(sources) > 0 {
		data, err := json.Marshal(sources)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sources: %w", err)
		}
		sourcesJSON = data
	}

	msg := &Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Sources:        sources,
	}
	err := s.db.InOrg(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, sources, created_at)
			SELECT $1, $2, $3, $4, $5, $6
			WHERE EXISTS (
				SELECT 1 FROM conversations
				WHERE id = $2 AND org_id = current_setting('app.current_org_id')::uuid
			)`,
			msg.ID, conversationID, role, content, sourcesJSON, now)
		if err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		msg.CreatedAt = now

		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = $1
			 WHERE id = $2 AND org_id = current_setting('app.current_org_id')::uuid`,
			now, conversationID)
		if err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// appendMessageForOrg persists a message with an explicit org binding.
// Used by the chat service to store the assistant reply after the
// request context is gone.
func (s *Store) appendMessageForOrg(ctx context.Context, orgID, conversationID uuid.UUID, role, content string, sources []Source) error {
	var sourcesJSON interface{}
	if len(sources) > 0 {
		data, err := json.Marshal(sources)
		if err != nil {
			return fmt.Errorf("failed to marshal sources: %w", err)
		}
		sourcesJSON = data
	}

	return s.db.InOrgID(ctx, orgID, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, sources, created_at)
			SELECT $1, $2, $3, $4, $5, $6
			WHERE EXISTS (
				SELECT 1 FROM conversations WHERE id = $2 AND org_id = $7
			)`,
			uuid.New(), conversationID, role, content, sourcesJSON, now, orgID)
		if err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			// Conversation deleted mid-stream; drop the reply.
			return nil
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE conversations SET updated_at = $1 WHERE id = $2 AND org_id = $3",
			now, conversationID, orgID)
		if err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		return nil
	})
}

// ListMessages returns a conversation's turns in order. The caller's
// ownership of the conversation is verified first.
func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	var msgs []*Message
	err := s.db.InOrg(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT m.id, m.conversation_id, m.role, m.content, m.sources, m.created_at
			FROM messages m
			WHERE m.conversation_id IN (
				SELECT id FROM conversations
				WHERE id = $1 AND org_id = current_setting('app.current_org_id')::uuid
			)
			ORDER BY m.created_at ASC`, conversationID)
		if err != nil {
			return fmt.Errorf("failed to list messages: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			msg := &Message{}
			var sourcesJSON []byte
			if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role,
				&msg.Content, &sourcesJSON, &msg.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan message: %w", err)
			}
			if len(sourcesJSON) > 0 {
				if err := json.Unmarshal(sourcesJSON, &msg.Sources); err != nil {
					return fmt.Errorf("failed to decode message sources: %w", err)
				}
			}
			msgs = append(msgs, msg)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}
