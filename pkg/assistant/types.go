package assistant

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// titleLimit caps how much of the first query becomes the
// conversation title.
const titleLimit = 80

var (
	// ErrNotFound is returned when a conversation does not exist in
	// the current org's scope.
	ErrNotFound = errors.New("conversation not found")

	// ErrRateLimited is returned when a user exceeds the chat request
	// window.
	ErrRateLimited = errors.New("too many chat requests")
)

// Conversation is a chat thread owned by one user in one org. UserID
// goes nil when the member is removed; the thread stays with the org.
type Conversation struct {
	ID        uuid.UUID  `json:"id"`
	OrgID     uuid.UUID  `json:"org_id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Source is a citation attached to an assistant message.
type Source struct {
	Label    string `json:"label"`
	Position int    `json:"position"`
}

// Message is one turn in a conversation. Sources are present only on
// assistant messages.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Sources        []Source  `json:"sources,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ContextProvider retrieves grounding context for a query. Retrieval
// internals live behind this interface.
type ContextProvider interface {
	Retrieve(ctx context.Context, orgID uuid.UUID, query string) (string, []Source, error)
}

// CompletionStreamer produces a completion as a lazy token stream.
// The channel closes when the completion ends; the stream is finite
// and not restartable.
type CompletionStreamer interface {
	Stream(ctx context.Context, model, prompt string) (<-chan string, error)
}

// ChatRequest is one user query, optionally continuing a conversation.
type ChatRequest struct {
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	Query          string     `json:"query"`
}

// ChatResult is the fully accumulated reply after streaming finishes.
type ChatResult struct {
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	Reply          string     `json:"reply"`
	Sources        []Source   `json:"sources,omitempty"`
}
