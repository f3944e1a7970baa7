package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/covebase/cove/pkg/assistant"
	"github.com/covebase/cove/pkg/httputil"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/plans"
	"github.com/covebase/cove/pkg/tenant"
)

type assistantHandlers struct {
	service  *assistant.Service
	store    *assistant.Store
	resolver *orgs.Resolver
	logger   *observability.Logger
}

func newAssistantHandlers(deps Deps) *assistantHandlers {
	return &assistantHandlers{
		service:  deps.Assistant,
		store:    deps.Conversations,
		resolver: deps.Resolver,
		logger:   deps.Logger.WithComponent("assistant_handlers"),
	}
}

// chat handles POST /assistant/chat. Tokens stream as server-sent
// events; the final event carries the conversation ID and sources.
func (h *assistantHandlers) chat(w http.ResponseWriter, r *http.Request) {
	var req assistant.ChatRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, fmt.Errorf("streaming unsupported"))
		return
	}

	started := false
	startStream := func() {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		started = true
	}

	result, err := h.service.Chat(r.Context(), req, func(token string) error {
		if !started {
			startStream()
		}
		payload, mErr := json.Marshal(map[string]string{"token": token})
		if mErr != nil {
			return mErr
		}
		if _, wErr := fmt.Fprintf(w, "data: %s\n\n", payload); wErr != nil {
			return wErr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if started {
			// Headers are gone; the best we can do is an error event.
			fmt.Fprintf(w, "event: error\ndata: {\"error\":%q}\n\n", "stream interrupted")
			flusher.Flush()
			return
		}
		switch {
		case errors.Is(err, assistant.ErrRateLimited):
			httputil.WriteTooManyRequests(w, "too many requests, slow down")
		case errors.Is(err, assistant.ErrNotFound):
			httputil.WriteNotFoundError(w, "conversation not found")
		default:
			writeDomainError(w, err)
		}
		return
	}

	if !started {
		startStream()
	}
	final, mErr := json.Marshal(result)
	if mErr != nil {
		h.logger.WithError(mErr).Error("Failed to encode chat result")
		return
	}
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", final)
	flusher.Flush()
}

// historyAllowed reports whether the caller's plan keeps conversations.
func (h *assistantHandlers) historyAllowed(r *http.Request) (bool, error) {
	tc, err := tenant.From(r.Context())
	if err != nil {
		return false, err
	}
	org, err := h.resolver.Resolve(r.Context(), tc.OrgID)
	if err != nil {
		return false, err
	}
	lims, err := plans.Get(org.Plan)
	if err != nil {
		return false, err
	}
	return lims.ConversationHistory, nil
}

// listConversations handles GET /assistant/conversations.
func (h *assistantHandlers) listConversations(w http.ResponseWriter, r *http.Request) {
	allowed, err := h.historyAllowed(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !allowed {
		httputil.WriteErrorMessage(w, http.StatusPaymentRequired, "conversation history requires a paid plan")
		return
	}

	conversations, err := h.store.ListConversations(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, conversations)
}

// getConversation handles GET /assistant/conversations/{id}.
func (h *assistantHandlers) getConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httputil.WriteValidationError(w, "invalid conversation id")
		return
	}

	conversation, err := h.store.GetConversation(r.Context(), id)
	if errors.Is(err, assistant.ErrNotFound) {
		httputil.WriteNotFoundError(w, "conversation not found")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, conversation)
}

// deleteConversation handles DELETE /assistant/conversations/{id}.
func (h *assistantHandlers) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httputil.WriteValidationError(w, "invalid conversation id")
		return
	}

	err := h.store.DeleteConversation(r.Context(), id)
	if errors.Is(err, assistant.ErrNotFound) {
		httputil.WriteNotFoundError(w, "conversation not found")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listMessages handles GET /assistant/conversations/{id}/messages.
func (h *assistantHandlers) listMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httputil.WriteValidationError(w, "invalid conversation id")
		return
	}

	messages, err := h.store.ListMessages(r.Context(), id)
	if errors.Is(err, assistant.ErrNotFound) {
		httputil.WriteNotFoundError(w, "conversation not found")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, messages)
}
