package calendar_sync

import (
	"context"
	"fmt"

	"github.com/kinsync/kinsync/internal/config"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Scheduler runs periodic passes for every account with sync enabled.
type Scheduler struct {
	orchestrator *Orchestrator
	cron         *cron.Cron
	spec         string
	workers      int
}

func NewScheduler(orchestrator *Orchestrator, cfg config.Sync) *Scheduler {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		orchestrator: orchestrator,
		cron:         cron.New(),
		spec:         cfg.Cron,
		workers:      workers,
	}
}

// Start registers the periodic job. An empty cron spec leaves the scheduler disabled.
func (s *Scheduler) Start() error {
	if s.spec == "" {
		log.Info("periodic calendar sync is disabled")
		return nil
	}
	_, err := s.cron.AddFunc(s.spec, func() {
		if err := s.SyncAll(context.Background()); err != nil {
			log.Errorf("periodic calendar sync failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sync cron %q: %w", s.spec, err)
	}
	s.cron.Start()
	log.Infof("periodic calendar sync scheduled with %q", s.spec)
	return nil
}

// Stop waits for a running job unless ctx ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		log.Warn("periodic calendar sync did not stop in time")
	}
}

// SyncAll runs one pass per sync enabled user with at most Workers passes at a time.
// Failures of single users are logged and do not stop the others.
func (s *Scheduler) SyncAll(ctx context.Context) error {
	userIds, err := s.orchestrator.vault.ListSyncEnabledUserIds(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts to sync: %w", err)
	}
	log.Debugf("starting periodic sync of %d accounts", len(userIds))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, userId := range userIds {
		g.Go(func() error {
			if _, err := s.orchestrator.RunSync(ctx, userId); err != nil && !expectedSkip(err) {
				log.Warnf("periodic sync of user %d failed: %v", userId, err)
			}
			return nil
		})
	}
	return g.Wait()
}
