// Package scheduler runs the batch jobs and the notification relay on cron
// schedules in the configured timezone.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/habitroyale/habit-engine/internal/config"
	"github.com/habitroyale/habit-engine/internal/notify"
	"github.com/habitroyale/habit-engine/internal/service/jobs"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

// Jobs runs the batch jobs.
type Jobs interface {
	HealthDecay(ctx context.Context) (jobs.Result, error)
	BattleExpiry(ctx context.Context) (jobs.Result, error)
	LeaderboardRebuild(ctx context.Context) (jobs.Result, error)
}

// Relay delivers pending notifications.
type Relay interface {
	RunOnce(ctx context.Context) notify.RelayResult
}

type jobDefinition struct {
	name     string
	schedule string
	run      func(ctx context.Context)
}

// Service handles cron scheduling of the batch jobs.
type Service struct {
	config *config.SchedulerConfig
	jobs   Jobs
	relay  Relay
	log    *logger.Logger
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a new scheduler service. relay may be nil.
func NewService(cfg *config.SchedulerConfig, jobs Jobs, relay Relay, log *logger.Logger) *Service {
	return &Service{
		config: cfg,
		jobs:   jobs,
		relay:  relay,
		log:    log.Component("scheduler"),
	}
}

// Start registers every configured job and starts the cron scheduler.
func (s *Service) Start() error {
	if !s.config.Enabled {
		s.log.Info().Msg("Scheduler is disabled in configuration")
		return nil
	}

	location, err := time.LoadLocation(s.config.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.config.Timezone, err)
	}

	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithLocation(location),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, def := range s.definitions() {
		if def.schedule == "" {
			s.log.Info().Str("job", def.name).Msg("Job has no schedule, not registered")
			continue
		}
		run := def.run
		if _, err := s.cron.AddFunc(def.schedule, func() { run(s.ctx) }); err != nil {
			s.cancel()
			return fmt.Errorf("failed to register %s job with schedule %q: %w", def.name, def.schedule, err)
		}
		s.log.Info().
			Str("job", def.name).
			Str("schedule", def.schedule).
			Msg("Job registered")
	}

	s.cron.Start()

	nextRun := ""
	if entries := s.cron.Entries(); len(entries) > 0 {
		nextRun = entries[0].Next.Format(time.RFC3339)
	}
	s.log.Info().
		Str("timezone", s.config.Timezone).
		Int("jobs", len(s.cron.Entries())).
		Str("next_run", nextRun).
		Msg("Scheduler started successfully")

	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

// Entries returns the registered cron entries.
func (s *Service) Entries() []cron.Entry {
	if s.cron == nil {
		return nil
	}
	return s.cron.Entries()
}

func (s *Service) definitions() []jobDefinition {
	defs := []jobDefinition{
		{name: jobs.JobHealthDecay, schedule: s.config.HealthDecay, run: s.runJob(jobs.JobHealthDecay, s.jobs.HealthDecay)},
		{name: jobs.JobBattleExpiry, schedule: s.config.BattleExpiry, run: s.runJob(jobs.JobBattleExpiry, s.jobs.BattleExpiry)},
		{name: jobs.JobLeaderboardRebuild, schedule: s.config.LeaderboardRebuild, run: s.runJob(jobs.JobLeaderboardRebuild, s.jobs.LeaderboardRebuild)},
	}
	if s.relay != nil {
		defs = append(defs, jobDefinition{
			name:     "outbox_relay",
			schedule: s.config.OutboxRelay,
			run:      func(ctx context.Context) { s.relay.RunOnce(ctx) },
		})
	}
	return defs
}

// runJob adapts a job for cron.
func (s *Service) runJob(name string, job func(ctx context.Context) (jobs.Result, error)) func(ctx context.Context) {
	return func(ctx context.Context) {
		start := time.Now()
		res, err := job(ctx)
		if err != nil {
			s.log.Error().
				Err(err).
				Str("job", name).
				Int("processed", res.Processed).
				Dur("duration", time.Since(start)).
				Msg("Scheduled job failed")
			return
		}

		s.log.Debug().
			Str("job", name).
			Int("updated", res.Updated).
			Int("failed", res.Failed).
			Dur("duration", time.Since(start)).
			Msg("Scheduled job completed")
	}
}

// cronLogger routes cron's own messages to the application logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
