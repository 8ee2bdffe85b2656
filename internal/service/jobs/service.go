// Package jobs implements the scheduled batch jobs: pet health decay, battle
// expiry and leaderboard rebuilds. Every job pages through its table with
// keyset pagination so no run loads the whole collection.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/habitroyale/habit-engine/internal/config"
	"github.com/habitroyale/habit-engine/internal/engine"
	"github.com/habitroyale/habit-engine/internal/events"
	prommetrics "github.com/habitroyale/habit-engine/internal/metrics"
	"github.com/habitroyale/habit-engine/internal/models"
	"github.com/habitroyale/habit-engine/internal/repository"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

// Job names used in logs and metrics.
const (
	JobHealthDecay        = "health_decay"
	JobBattleExpiry       = "battle_expiry"
	JobLeaderboardRebuild = "leaderboard_rebuild"
)

const defaultBatchSize = 200

// Result summarises one job run.
type Result struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}

// LeaderboardRecomputer recomputes a user's leaderboard entry.
type LeaderboardRecomputer interface {
	Recompute(ctx context.Context, userID string) (*models.LeaderboardEntry, error)
}

// Service runs the batch jobs.
type Service struct {
	db          *repository.DB
	rules       config.RulesConfig
	batchSize   int
	location    *time.Location
	leaderboard LeaderboardRecomputer
	changes     *events.Outbox
	log         *logger.Logger
	now         func() time.Time
}

// NewService creates a new job service. Day boundaries are evaluated in
// location; a nil location means UTC. changes may be nil.
func NewService(
	db *repository.DB,
	rules config.RulesConfig,
	batchSize int,
	location *time.Location,
	leaderboard LeaderboardRecomputer,
	changes *events.Outbox,
	log *logger.Logger,
) *Service {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if location == nil {
		location = time.UTC
	}
	return &Service{
		db:          db,
		rules:       rules,
		batchSize:   batchSize,
		location:    location,
		leaderboard: leaderboard,
		changes:     changes,
		log:         log.Component("jobs"),
		now:         time.Now,
	}
}

// HealthDecay lowers the health of every pet that was not fed for at least a
// day. Each page is written in one transaction together with its pet
// changes, which are flushed once the page commits; when that fails the page
// is retried pet by pet. Pets already decayed on the current day are
// skipped, so reruns on the same day change nothing.
func (s *Service) HealthDecay(ctx context.Context) (Result, error) {
	start := time.Now()
	now := s.now()
	pets := repository.NewPetRepository(s.db)

	var (
		res   Result
		after string
	)
	for {
		page, err := pets.ListPage(ctx, after, s.batchSize)
		if err != nil {
			s.finish(JobHealthDecay, start, res, err)
			return res, err
		}
		if len(page) == 0 {
			break
		}
		after = page[len(page)-1].ID
		res.Processed += len(page)

		var (
			decayed int
			staged  events.Staged
		)
		err = s.db.Transaction(ctx, func(tx *repository.DB) error {
			decayed, staged = 0, nil
			for i := range page {
				applied, rows, err := s.decayPet(ctx, tx, &page[i], now)
				if err != nil {
					return err
				}
				if applied {
					decayed++
					staged = append(staged, rows...)
				}
			}
			return nil
		})
		if err == nil {
			res.Updated += decayed
			s.changes.Flush(ctx, staged)
			continue
		}

		s.log.Warn().Err(err).Str("after_id", after).Int("pets", len(page)).Msg("Health decay page failed, retrying pet by pet")
		for i := range page {
			pet := &page[i]
			var (
				applied bool
				rows    events.Staged
			)
			err := s.db.Transaction(ctx, func(tx *repository.DB) error {
				var err error
				applied, rows, err = s.decayPet(ctx, tx, pet, now)
				return err
			})
			if err != nil {
				res.Failed++
				s.log.Error().Err(err).Str("pet_id", pet.ID).Str("user_id", pet.UserID).Msg("Failed to decay pet health")
				continue
			}
			if applied {
				res.Updated++
				s.changes.Flush(ctx, rows)
			}
		}
	}

	s.finish(JobHealthDecay, start, res, nil)
	return res, nil
}

// decayPet applies one pet's decay inside tx and stages the resulting pet
// change. It reports false when the pet was left alone.
func (s *Service) decayPet(ctx context.Context, tx *repository.DB, pet *models.Pet, now time.Time) (bool, events.Staged, error) {
	if pet.LastHealthDecay != nil && s.sameDay(*pet.LastHealthDecay, now) {
		return false, nil, nil
	}

	days := engine.DaysSince(pet.LastFed, now)
	if days <= 0 {
		return false, nil, nil
	}
	newHealth := engine.HealthDecay(pet.Health, days, s.rules.DecayPerDay)

	decayedAt := now.UTC()
	applied, err := repository.NewPetRepository(tx).ApplyDecay(ctx, pet.ID, pet.Health, newHealth, decayedAt)
	if err != nil {
		return false, nil, err
	}
	if !applied {
		s.log.Debug().Str("pet_id", pet.ID).Msg("Pet health changed concurrently, decay skipped")
		return false, nil, nil
	}

	if engine.CrossedLowHealth(pet.Health, newHealth, s.rules.LowHealthThreshold) {
		if err := repository.NewOutboxRepository(tx).Enqueue(ctx, lowHealthIntent(pet)); err != nil {
			return false, nil, err
		}
	}

	after := *pet
	after.Health = newHealth
	after.LastHealthDecay = &decayedAt
	change, err := events.NewChange(events.PetDoc(pet.UserID, pet.ID), pet, &after)
	if err != nil {
		return false, nil, err
	}
	staged, err := s.changes.Stage(ctx, tx, change)
	if err != nil {
		return false, nil, err
	}
	return true, staged, nil
}

func (s *Service) sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(s.location).Date()
	by, bm, bd := b.In(s.location).Date()
	return ay == by && am == bm && ad == bd
}

// BattleExpiry marks pending and active battles past their expiry as
// expired. A failed page is counted and skipped.
func (s *Service) BattleExpiry(ctx context.Context) (Result, error) {
	start := time.Now()
	now := s.now().UTC()
	battles := repository.NewBattleRepository(s.db)

	var (
		res   Result
		after string
	)
	for {
		ids, err := battles.ListExpirableIDs(ctx, after, now, s.batchSize)
		if err != nil {
			s.finish(JobBattleExpiry, start, res, err)
			return res, err
		}
		if len(ids) == 0 {
			break
		}
		after = ids[len(ids)-1]
		res.Processed += len(ids)

		n, err := battles.ExpireBatch(ctx, ids, now)
		if err != nil {
			res.Failed += len(ids)
			s.log.Error().Err(err).Int("battles", len(ids)).Str("after_id", after).Msg("Failed to expire battle page")
			continue
		}
		res.Updated += int(n)
	}

	s.finish(JobBattleExpiry, start, res, nil)
	return res, nil
}

// LeaderboardRebuild recomputes the weekly entry of every user. One user's
// failure does not stop the run.
func (s *Service) LeaderboardRebuild(ctx context.Context) (Result, error) {
	start := time.Now()
	users := repository.NewUserRepository(s.db)

	var (
		res   Result
		after string
	)
	for {
		page, err := users.ListPage(ctx, after, s.batchSize)
		if err != nil {
			s.finish(JobLeaderboardRebuild, start, res, err)
			return res, err
		}
		if len(page) == 0 {
			break
		}
		after = page[len(page)-1].ID

		for _, user := range page {
			res.Processed++
			if _, err := s.leaderboard.Recompute(ctx, user.ID); err != nil {
				res.Failed++
				s.log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to recompute leaderboard entry")
				continue
			}
			res.Updated++
		}
	}

	s.finish(JobLeaderboardRebuild, start, res, nil)
	return res, nil
}

// finish records metrics and logs the outcome of a run.
func (s *Service) finish(job string, start time.Time, res Result, err error) {
	duration := time.Since(start)

	status := "success"
	switch {
	case err != nil:
		status = "error"
	case res.Failed > 0:
		status = "partial"
	}
	prommetrics.RecordJobRun(job, status, duration.Seconds())
	prommetrics.RecordJobEntities(job, res.Updated, res.Failed)

	event := s.log.Info()
	if err != nil {
		event = s.log.Error().Err(err)
	}
	event.
		Str("job", job).
		Int("processed", res.Processed).
		Int("updated", res.Updated).
		Int("failed", res.Failed).
		Dur("duration", duration).
		Msg("Job finished")
}

func lowHealthIntent(pet *models.Pet) *models.NotificationIntent {
	return &models.NotificationIntent{
		UserID: pet.UserID,
		Kind:   models.NotifyLowHealth,
		Title:  fmt.Sprintf("%s needs attention!", pet.Name),
		Body:   "Your pet's health is low. Log your habits to heal it!",
		Data: map[string]string{
			"type":    string(models.NotifyLowHealth),
			"petName": pet.Name,
			"petId":   pet.ID,
		},
	}
}
