package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/covebase/cove/pkg/limits"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/plans"
	"github.com/covebase/cove/pkg/tenant"
	"github.com/covebase/cove/pkg/usage"
)

// persistTimeout bounds the detached write of the assistant reply.
const persistTimeout = 10 * time.Second

// Service answers chat queries with streamed completions.
//
// Each request passes two gates in order: the per-user rate limit,
// then the org's plan limit on AI queries. Conversation persistence is
// plan-gated; plans without history stream answers without storing
// anything.
type Service struct {
	store       *Store
	rate        *RateLimiter
	resolver    *orgs.Resolver
	ledger      *usage.Ledger
	enforcer    *limits.Enforcer
	provider    ContextProvider
	completions CompletionStreamer
	metrics     *observability.Metrics
	logger      *observability.Logger
}

// NewService creates the chat service.
func NewService(store *Store, rate *RateLimiter, resolver *orgs.Resolver, ledger *usage.Ledger, enforcer *limits.Enforcer, provider ContextProvider, completions CompletionStreamer, metrics *observability.Metrics, logger *observability.Logger) *Service {
	return &Service{
		store:       store,
		rate:        rate,
		resolver:    resolver,
		ledger:      ledger,
		enforcer:    enforcer,
		provider:    provider,
		completions: completions,
		metrics:     metrics,
		logger:      logger.WithComponent("assistant"),
	}
}

// Chat answers one query, calling emit for every token as it streams.
// The returned result carries the fully accumulated reply. Once the
// completion stream starts, it runs to the end and the reply is
// persisted even if emit starts failing because the client went away.
func (s *Service) Chat(ctx context.Context, req ChatRequest, emit func(token string) error) (*ChatResult, error) {
	tc, err := tenant.From(ctx)
	if err != nil {
		return nil, err
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	if !s.rate.Allow(ctx, tc.UserID.String()) {
		s.countRequest("rate_limited")
		return nil, ErrRateLimited
	}

	org, err := s.resolver.Resolve(ctx, tc.OrgID)
	if err != nil {
		return nil, err
	}
	planLimits, err := plans.Get(org.Plan)
	if err != nil {
		return nil, err
	}

	counter, err := s.ledger.GetOrCreate(ctx, usage.CurrentPeriod())
	if err != nil {
		return nil, err
	}
	if err := s.enforcer.Check(ctx, org, counter, usage.KindAIQueries); err != nil {
		s.countRequest("denied")
		return nil, err
	}
	if err := s.ledger.Increment(ctx, usage.CurrentPeriod(), usage.KindAIQueries, 1); err != nil {
		return nil, err
	}

	var conv *Conversation
	if planLimits.ConversationHistory {
		conv, err = s.resolveConversation(ctx, req, query)
		if err != nil {
			return nil, err
		}
		if _, err := s.store.AppendMessage(ctx, conv.ID, RoleUser, query, nil); err != nil {
			return nil, err
		}
	}

	contextText, sources, err := s.provider.Retrieve(ctx, tc.OrgID, query)
	if err != nil {
		s.countRequest("error")
		return nil, fmt.Errorf("failed to retrieve context: %w", err)
	}

	// The stream gets its own context so a client disconnect cannot
	// cancel accumulation mid-completion.
	streamCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout+2*time.Minute)
	defer cancel()

	tokens, err := s.completions.Stream(streamCtx, planLimits.CompletionModel, buildPrompt(contextText, query))
	if err != nil {
		s.countRequest("error")
		return nil, fmt.Errorf("failed to start completion: %w", err)
	}

	var reply strings.Builder
	emitFailed := false
	for token := range tokens {
		reply.WriteString(token)
		if s.metrics != nil {
			s.metrics.ChatTokensStreamed.Inc()
		}
		if !emitFailed && emit != nil {
			if emitErr := emit(token); emitErr != nil {
				// Keep draining: the reply is persisted in full even
				// when the client is gone.
				emitFailed = true
				s.logger.WithError(emitErr).Debug("client left mid-stream, continuing accumulation")
			}
		}
	}

	result := &ChatResult{Reply: reply.String(), Sources: sources}
	if conv != nil {
		id := conv.ID
		result.ConversationID = &id

		persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancelPersist()
		if err := s.store.appendMessageForOrg(persistCtx, tc.OrgID, conv.ID, RoleAssistant, result.Reply, sources); err != nil {
			s.logger.WithError(err).WithOrg(tc.OrgID.String()).Error("failed to persist assistant reply")
		}
	}

	s.countRequest("ok")
	return result, nil
}

func (s *Service) resolveConversation(ctx context.Context, req ChatRequest, query string) (*Conversation, error) {
	if req.ConversationID != nil {
		return s.store.GetConversation(ctx, *req.ConversationID)
	}
	return s.store.CreateConversation(ctx, query)
}

func buildPrompt(contextText, query string) string {
	if contextText == "" {
		return query
	}
	return fmt.Sprintf("Use the following context to answer.\n\nContext:\n%s\n\nQuestion: %s", contextText, query)
}

func (s *Service) countRequest(status string) {
	if s.metrics != nil {
		s.metrics.ChatRequestsTotal.WithLabelValues(status).Inc()
	}
}
