// Package maintenance runs the periodic housekeeping schedule: regular
// leaderboard refreshes plus daily pruning of finished jobs and
// superseded cache generations.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"primeboard/internal/services/leaderboard"
	"primeboard/internal/storage"
	"primeboard/pkg/logx"
)

type Config struct {
	// RecomputeSpec is the cron spec for the periodic full refresh.
	RecomputeSpec string
	// PruneSpec is the cron spec for the daily prune pass.
	PruneSpec string
	// JobRetention is how long finished jobs stay queryable.
	JobRetention time.Duration
	// Location anchors the cron specs.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.RecomputeSpec == "" {
		c.RecomputeSpec = "0 * * * *"
	}
	if c.PruneSpec == "" {
		c.PruneSpec = "30 4 * * *"
	}
	if c.JobRetention <= 0 {
		c.JobRetention = 7 * 24 * time.Hour
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Boards is the slice of the leaderboard engine maintenance drives.
type Boards interface {
	Invalidate(ctx context.Context, metric string, span leaderboard.Span) error
	PruneGenerations(ctx context.Context) (int, error)
}

type Service struct {
	cfg    Config
	log    logx.Logger
	store  storage.Store
	boards Boards

	mu sync.Mutex
	c  *cron.Cron
}

func New(cfg Config, store storage.Store, boards Boards, log logx.Logger) *Service {
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log.With(logx.String("svc", "maintenance")),
		store:  store,
		boards: boards,
	}
}

// Start registers the schedule and begins running it. The cron specs
// are validated here so a config typo fails startup instead of silently
// never firing.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	c := cron.New(cron.WithLocation(s.cfg.Location))
	if _, err := c.AddFunc(s.cfg.RecomputeSpec, func() { s.refreshBoards(ctx) }); err != nil {
		return fmt.Errorf("recompute spec %q: %w", s.cfg.RecomputeSpec, err)
	}
	if _, err := c.AddFunc(s.cfg.PruneSpec, func() { s.prune(ctx) }); err != nil {
		return fmt.Errorf("prune spec %q: %w", s.cfg.PruneSpec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("schedule started",
		logx.String("recompute", s.cfg.RecomputeSpec),
		logx.String("prune", s.cfg.PruneSpec),
		logx.String("tz", s.cfg.Location.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// refreshBoards enqueues a recompute for every known leaderboard key.
// Dedup keys keep this cheap when the previous round is still pending.
func (s *Service) refreshBoards(ctx context.Context) {
	if err := s.boards.Invalidate(ctx, "", ""); err != nil {
		s.log.Warn("periodic refresh failed", logx.Err(err))
		return
	}
	s.log.Debug("periodic refresh enqueued")
}

func (s *Service) prune(ctx context.Context) {
	jobs, err := s.store.PruneDoneJobs(ctx, time.Now().Add(-s.cfg.JobRetention))
	if err != nil {
		s.log.Warn("job prune failed", logx.Err(err))
	}
	gens, err := s.boards.PruneGenerations(ctx)
	if err != nil {
		s.log.Warn("generation prune failed", logx.Err(err))
	}
	s.log.Info("prune pass done", logx.Int("jobs", jobs), logx.Int("generations", gens))
}
