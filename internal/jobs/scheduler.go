package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

const jobTimeout = time.Minute

type idleResolver interface {
	ResolveIdle(ctx context.Context, idleFor time.Duration) (int, error)
}

type Scheduler struct {
	cron   *cron.Cron
	logger *log.Logger
}

// NewScheduler skips a run while the previous one of the same job is still
// going.
func NewScheduler(logger *log.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
	}
}

// AddIdleResolver resolves active conversations nobody has touched for
// idleFor, on the given cron spec ("@every 15m", "*/5 * * * *").
func (s *Scheduler) AddIdleResolver(spec string, resolver idleResolver, idleFor time.Duration) error {
	if _, err := s.cron.AddFunc(spec, resolveIdleJob(resolver, idleFor, s.logger)); err != nil {
		return fmt.Errorf("schedule idle resolver %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func resolveIdleJob(resolver idleResolver, idleFor time.Duration, logger *log.Logger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		resolved, err := resolver.ResolveIdle(ctx, idleFor)
		if err != nil {
			logger.Error("resolve idle conversations", "err", err)
			return
		}
		if resolved > 0 {
			logger.Info("resolved idle conversations", "count", resolved, "idle_for", idleFor)
		}
	}
}
