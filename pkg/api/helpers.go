package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/covebase/cove/pkg/audit"
	"github.com/covebase/cove/pkg/httputil"
	"github.com/covebase/cove/pkg/limits"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/tenant"
	"github.com/covebase/cove/pkg/usage"
)

// auditRecorder records audit entries without failing the request.
type auditRecorder struct {
	logger *audit.Logger
	log    *observability.Logger
}

func (a *auditRecorder) record(ctx context.Context, action string, details map[string]interface{}) {
	if a.logger == nil {
		return
	}
	if err := a.logger.Record(ctx, action, details); err != nil {
		a.log.WithError(err).WithField("action", action).Warn("Failed to record audit entry")
	}
}

// pathID extracts a UUID route variable.
func pathID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	return id, err == nil
}

// writeDomainError maps service errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var exceeded *limits.ExceededError
	switch {
	case errors.Is(err, tenant.ErrNoTenant):
		httputil.WriteUnauthorized(w, "authentication required")
	case errors.Is(err, orgs.ErrNotFound):
		httputil.WriteNotFoundError(w, "not found")
	case errors.As(err, &exceeded):
		httputil.WriteErrorMessage(w, http.StatusPaymentRequired, exceeded.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

// currentUsage loads this month's counter for the caller's org.
func currentUsage(ctx context.Context, ledger *usage.Ledger) (*usage.Counter, error) {
	return ledger.GetOrCreate(ctx, usage.CurrentPeriod())
}
