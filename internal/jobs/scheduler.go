// Package jobs runs the clock-driven work: the end-of-day freeze after the
// close, the next-morning unfreeze, and the nightly retention and database
// hygiene sweep. All schedules are pinned to the exchange timezone.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/modules/decisions"
	"github.com/swap2you/chakraops-sub000/internal/modules/freeze"
	"github.com/swap2you/chakraops-sub000/internal/modules/market_hours"
	"github.com/swap2you/chakraops-sub000/internal/reliability"
)

// Exchange-local cron expressions.
const (
	specEODFreeze    = "5 16 * * MON-FRI" // 16:05, after the regular close
	specMorningClear = "25 9 * * MON-FRI" // 09:25, just before the open
	specNightly      = "30 2 * * *"       // 02:30, quiet hours
)

// archivePusher uploads one day's freeze archive offsite.
type archivePusher interface {
	UploadDay(ctx context.Context, archiveDir, day string) (*reliability.UploadReport, error)
}

// Deps are the scheduler's collaborators. Uploader is nil when no archive
// target is configured.
type Deps struct {
	Freeze      *freeze.Service
	Store       *decisions.Store
	Calendar    *market_hours.Calendar
	Uploader    archivePusher
	Maintenance *reliability.Maintenance
}

// Options tune the schedules.
type Options struct {
	EODFreezeEnabled bool
	RetentionDays    int
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron *cron.Cron
	deps Deps
	opts Options
	log  zerolog.Logger
	now  func() time.Time
}

// NewScheduler registers the jobs on an exchange-local cron.
func NewScheduler(deps Deps, opts Options, log zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(cron.WithLocation(deps.Calendar.Location())),
		deps: deps,
		opts: opts,
		log:  log.With().Str("component", "jobs").Logger(),
		now:  time.Now,
	}

	if opts.EODFreezeEnabled {
		if _, err := s.cron.AddFunc(specEODFreeze, s.runEODFreeze); err != nil {
			return nil, err
		}
		if _, err := s.cron.AddFunc(specMorningClear, s.runMorningClear); err != nil {
			return nil, err
		}
	}
	if _, err := s.cron.AddFunc(specNightly, s.runNightly); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides the scheduler clock for tests. Cron firing times are
// unaffected; only the jobs' own date math uses it.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start launches the cron runner.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Bool("eod_freeze", s.opts.EODFreezeEnabled).Msg("Job scheduler started")
}

// Stop halts scheduling and waits for running jobs, bounded by the timeout.
func (s *Scheduler) Stop(timeout time.Duration) {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
		s.log.Info().Msg("Job scheduler stopped")
	case <-time.After(timeout):
		s.log.Warn().Dur("timeout", timeout).Msg("Jobs still running at shutdown; proceeding")
	}
}

// runEODFreeze freezes the canonical decision after the close and ships the
// day's archive offsite when a target is configured.
func (s *Scheduler) runEODFreeze() {
	now := s.now()
	if !s.deps.Calendar.IsTradingDay(now) {
		s.log.Debug().Msg("Not a trading day; EOD freeze skipped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := s.deps.Freeze.FreezeEOD(ctx, freeze.Options{})
	if err != nil {
		s.log.Error().Err(err).Msg("EOD freeze failed")
		return
	}
	s.log.Info().Str("run_id", result.RunID).Str("archive", result.ArchiveDir).Msg("EOD freeze complete")

	if s.deps.Uploader == nil {
		return
	}
	day := now.In(s.deps.Calendar.Location()).Format("2006-01-02")
	if _, err := s.deps.Uploader.UploadDay(ctx, result.ArchiveDir, day); err != nil {
		s.log.Error().Err(err).Str("day", day).Msg("Archive upload failed")
	}
}

// runMorningClear drops the frozen shadow before the next session opens so
// the fresh canonical decision becomes active again.
func (s *Scheduler) runMorningClear() {
	if !s.deps.Calendar.IsTradingDay(s.now()) {
		return
	}
	cleared, err := s.deps.Freeze.ClearFrozen()
	if err != nil {
		s.log.Error().Err(err).Msg("Morning unfreeze failed")
		return
	}
	if cleared {
		s.log.Info().Msg("Frozen decision cleared for the new session")
	}
}

// runNightly prunes decision history past the retention window and runs
// database hygiene. Vacuum only on Sundays; it is the expensive one.
func (s *Scheduler) runNightly() {
	if s.opts.RetentionDays > 0 {
		window := time.Duration(s.opts.RetentionDays) * 24 * time.Hour
		removed, err := s.deps.Store.PruneHistory(window)
		if err != nil {
			s.log.Error().Err(err).Msg("History retention sweep failed")
		} else if removed > 0 {
			s.log.Info().Int("removed", removed).Dur("window", window).Msg("Decision history pruned")
		}
	}

	if s.deps.Maintenance == nil {
		return
	}
	if err := s.deps.Maintenance.CheckpointAll(); err != nil {
		s.log.Error().Err(err).Msg("WAL checkpoint failed")
	}
	if s.now().In(s.deps.Calendar.Location()).Weekday() == time.Sunday {
		if err := s.deps.Maintenance.VacuumAll(); err != nil {
			s.log.Error().Err(err).Msg("Vacuum failed")
		}
	}
	s.deps.Maintenance.LogStats()
}
