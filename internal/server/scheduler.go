package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// retryDelay is how long the scheduler waits after a cron evaluation error.
const retryDelay = 30 * time.Second

// Scheduler runs the sync pipeline for every configured community on a cron
// schedule. Communities of one tick run one after another; a tick that comes
// due while the previous one is still running is skipped.
type Scheduler struct {
	cron        string
	communities []string
	syncer      Syncer
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	running bool
}

// NewScheduler validates cron and creates a scheduler.
func NewScheduler(cron string, communities []string, syncer Syncer, logger *slog.Logger) (*Scheduler, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid cron expression %q", cron)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:        cron,
		communities: append([]string(nil), communities...),
		syncer:      syncer,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Next returns the first tick strictly after from.
func (s *Scheduler) Next(from time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cron, from, false)
}

// Run blocks until ctx is done, running a tick each time the schedule fires.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "cron", s.cron, "communities", s.communities)
	defer s.logger.Info("scheduler stopped")

	for {
		next, err := s.Next(s.now())
		if err != nil {
			s.logger.Error("next tick failed", "cron", s.cron, "error", err)
			if !sleep(ctx, retryDelay) {
				return
			}
			continue
		}

		s.logger.Debug("next tick", "at", next)
		if !sleep(ctx, time.Until(next)) {
			return
		}
		s.Tick(ctx)
	}
}

// Tick runs every community once. It reports false when a previous tick was
// still running and nothing was started.
func (s *Scheduler) Tick(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("tick skipped", "reason", "previous tick still running")
		return false
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for _, community := range s.communities {
		if ctx.Err() != nil {
			return true
		}
		res, err := s.syncer.Run(ctx, community)
		if err != nil {
			s.logger.Error("scheduled sync failed", "community", community, "error", err)
			continue
		}
		s.logger.Info("scheduled sync complete",
			"community", community,
			"run_id", res.RunID,
			"inserted_debtors", res.InsertedDebtors,
		)
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
