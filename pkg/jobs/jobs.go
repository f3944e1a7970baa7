// Package jobs schedules recurring maintenance: expiring stale invites
// and failing indexing runs whose worker died.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/covebase/cove/pkg/documents"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
)

// Schedules, cron format.
const (
	// inviteSweepSchedule expires invites past their window, daily.
	inviteSweepSchedule = "15 2 * * *"
	// stuckDocSchedule reaps indexing runs that never reached a
	// terminal status.
	stuckDocSchedule = "*/10 * * * *"

	jobTimeout = 5 * time.Minute
)

// Scheduler owns the cron loop.
type Scheduler struct {
	cron        *cron.Cron
	orgs        orgs.Service
	documents   *documents.Store
	stuckJobAge time.Duration
	logger      *observability.Logger
}

// NewScheduler registers the maintenance jobs. Start must be called to
// begin running them.
func NewScheduler(orgService orgs.Service, docStore *documents.Store, stuckJobAge time.Duration, logger *observability.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:        cron.New(),
		orgs:        orgService,
		documents:   docStore,
		stuckJobAge: stuckJobAge,
		logger:      logger.WithComponent("jobs"),
	}

	if _, err := s.cron.AddFunc(inviteSweepSchedule, s.sweepInvites); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(stuckDocSchedule, s.reapStuckDocuments); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Job scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Job scheduler stopped")
}

func (s *Scheduler) sweepInvites() {
	defer observability.RecoverPanic(s.logger, "invite sweep")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.orgs.ExpireStaleInvites(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Invite sweep failed")
		return
	}
	if n > 0 {
		s.logger.WithField("expired", n).Info("Expired stale invites")
	}
}

func (s *Scheduler) reapStuckDocuments() {
	defer observability.RecoverPanic(s.logger, "stuck document sweep")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.documents.FailStuck(ctx, s.stuckJobAge)
	if err != nil {
		s.logger.WithError(err).Error("Stuck document sweep failed")
		return
	}
	if n > 0 {
		s.logger.WithField("failed", n).Warn("Marked stuck documents as failed")
	}
}
