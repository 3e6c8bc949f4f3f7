package billing

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepBatch caps how many bills one sweep run examines.
const DefaultSweepBatch = 500

// OverdueScheduler runs SweepOverdue on a cron schedule.
type OverdueScheduler struct {
	cron     *cron.Cron
	svc      *Service
	schedule string
	scope    func(context.Context) (context.Context, func(), error)
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewOverdueScheduler builds a scheduler. scope, when set, prepares the
// context for each run (tenant connection) and returns its release func.
func NewOverdueScheduler(svc *Service, schedule string, scope func(context.Context) (context.Context, func(), error), logger zerolog.Logger) *OverdueScheduler {
	l := logger.With().Str("component", "overdue_scheduler").Logger()
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(&l))))
	return &OverdueScheduler{
		cron:     c,
		svc:      svc,
		schedule: schedule,
		scope:    scope,
		timeout:  5 * time.Minute,
		logger:   l,
	}
}

// Start registers the sweep job and starts the cron loop.
func (s *OverdueScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunOnce); err != nil {
		return err
	}
	s.logger.Info().Str("schedule", s.schedule).Msg("scheduled overdue sweep")
	s.cron.Start()
	return nil
}

// Stop stops the cron loop; the returned context is done once a running
// sweep has finished.
func (s *OverdueScheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce performs a single sweep.
func (s *OverdueScheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if s.scope != nil {
		scoped, release, err := s.scope(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("overdue sweep: scope")
			return
		}
		defer release()
		ctx = scoped
	}

	start := time.Now()
	moved, err := s.svc.SweepOverdue(ctx, s.svc.now(), DefaultSweepBatch)
	if err != nil {
		s.logger.Error().Err(err).Int("moved", moved).Msg("overdue sweep failed")
		return
	}
	s.logger.Info().Int("moved", moved).Dur("took", time.Since(start)).Msg("overdue sweep complete")
}
