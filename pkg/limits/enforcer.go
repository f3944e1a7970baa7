// Package limits enforces plan entitlements against the usage ledger.
// Checks are read-then-act: the deciding read and the subsequent
// increment are not atomic, so a burst of concurrent requests can land
// slightly past a limit. Limits here are product guardrails, not hard
// capacity controls, and that overshoot is accepted.
package limits

import (
	"context"
	"errors"
	"fmt"

	"github.com/covebase/cove/pkg/audit"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/plans"
	"github.com/covebase/cove/pkg/usage"
)

// warnThreshold is the fraction of a limit at which warnings begin.
const warnThreshold = 0.8

// ExceededError reports a denied operation.
type ExceededError struct {
	Kind  usage.Kind
	Plan  plans.Tier
	Used  int
	Limit int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s limit reached for %s plan: %d/%d used", e.Kind, e.Plan, e.Used, e.Limit)
}

// IsExceeded checks if an error is a limit violation
func IsExceeded(err error) bool {
	var exceeded *ExceededError
	return errors.As(err, &exceeded)
}

// Warning flags usage approaching a plan limit.
type Warning struct {
	Kind    usage.Kind `json:"kind"`
	Used    int        `json:"used"`
	Limit   int        `json:"limit"`
	Message string     `json:"message"`
}

// Enforcer decides whether metered operations may proceed.
type Enforcer struct {
	audit   *audit.Logger
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewEnforcer creates a limit enforcer.
func NewEnforcer(auditLogger *audit.Logger, metrics *observability.Metrics, logger *observability.Logger) *Enforcer {
	return &Enforcer{
		audit:   auditLogger,
		metrics: metrics,
		logger:  logger.WithComponent("limits"),
	}
}

// limitFor returns the plan's bound for a counter kind, nil when
// unbounded.
func limitFor(l plans.Limits, kind usage.Kind) *int {
	switch kind {
	case usage.KindAIQueries:
		return l.MaxAIQueries
	case usage.KindDocuments:
		return l.MaxDocuments
	case usage.KindSeats:
		return l.MaxUsers
	}
	return nil
}

// Check denies an operation when the counter has reached the plan's
// bound. Denied AI queries also land in the audit trail, so operators
// can see which orgs are hitting their ceiling.
func (e *Enforcer) Check(ctx context.Context, org *orgs.Organization, counter *usage.Counter, kind usage.Kind) error {
	planLimits, err := plans.Get(org.Plan)
	if err != nil {
		return err
	}

	limit := limitFor(planLimits, kind)
	if limit == nil {
		return nil
	}

	used := counter.Get(kind)
	if used < *limit {
		return nil
	}

	if e.metrics != nil {
		e.metrics.LimitDenialsTotal.WithLabelValues(string(kind), string(org.Plan)).Inc()
	}
	e.logger.WithOrg(org.ID.String()).
		WithFields(map[string]interface{}{
			"kind":  string(kind),
			"plan":  string(org.Plan),
			"used":  used,
			"limit": *limit,
		}).Warn("operation denied by plan limit")

	if kind == usage.KindAIQueries {
		if auditErr := e.audit.RecordForOrg(ctx, org.ID, nil, audit.ActionLimitHit, map[string]interface{}{
			"kind":  string(kind),
			"plan":  string(org.Plan),
			"used":  used,
			"limit": *limit,
		}); auditErr != nil {
			e.logger.WithError(auditErr).Error("failed to record limit_hit audit entry")
		}
	}

	return &ExceededError{
		Kind:  kind,
		Plan:  org.Plan,
		Used:  used,
		Limit: *limit,
	}
}

// Warnings lists counters at or past the warning threshold but still
// under their limit. Counters at the limit are denials, not warnings.
func (e *Enforcer) Warnings(org *orgs.Organization, counter *usage.Counter) []Warning {
	planLimits, err := plans.Get(org.Plan)
	if err != nil {
		return nil
	}

	var warnings []Warning
	for _, kind := range []usage.Kind{usage.KindAIQueries, usage.KindDocuments, usage.KindSeats} {
		limit := limitFor(planLimits, kind)
		if limit == nil || *limit == 0 {
			continue
		}
		used := counter.Get(kind)
		ratio := float64(used) / float64(*limit)
		if ratio >= warnThreshold && ratio < 1.0 {
			warnings = append(warnings, Warning{
				Kind:  kind,
				Used:  used,
				Limit: *limit,
				Message: fmt.Sprintf("%s usage at %d%% of plan limit (%d/%d)",
					kind, int(ratio*100), used, *limit),
			})
			if e.metrics != nil {
				e.metrics.LimitWarningsTotal.WithLabelValues(string(kind), string(org.Plan)).Inc()
			}
		}
	}
	return warnings
}
