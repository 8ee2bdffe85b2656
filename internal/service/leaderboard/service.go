// Package leaderboard computes leaderboard scores and serves rankings.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/habitroyale/habit-engine/internal/engine"
	"github.com/habitroyale/habit-engine/internal/models"
	"github.com/habitroyale/habit-engine/internal/repository"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

// weeklyWindow is the habit log window counted into the weekly score.
const weeklyWindow = 7 * 24 * time.Hour

// UserRepository interface for user operations.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// PetRepository interface for pet operations.
type PetRepository interface {
	Get(ctx context.Context, userID, petID string) (*models.Pet, error)
}

// HabitLogRepository interface for habit log operations.
type HabitLogRepository interface {
	CountSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

// EntryRepository interface for leaderboard entry documents.
type EntryRepository interface {
	Upsert(ctx context.Context, entry *models.LeaderboardEntry) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	Top(ctx context.Context, period models.LeaderboardPeriod, limit int) ([]models.LeaderboardEntry, error)
	GetByUser(ctx context.Context, period models.LeaderboardPeriod, userID string) (*models.LeaderboardEntry, error)
	GetByUsers(ctx context.Context, period models.LeaderboardPeriod, userIDs []string) (map[string]models.LeaderboardEntry, error)
	CountAbove(ctx context.Context, period models.LeaderboardPeriod, score int) (int64, error)
}

// RankingCache is the sorted read model of a period's scores.
type RankingCache interface {
	Set(ctx context.Context, period models.LeaderboardPeriod, userID string, score int) error
	Remove(ctx context.Context, period models.LeaderboardPeriod, userID string) error
	Top(ctx context.Context, period models.LeaderboardPeriod, limit int) ([]Ranked, error)
	Rank(ctx context.Context, period models.LeaderboardPeriod, userID string) (int, error)
}

// Entry represents a single ranked row of a leaderboard.
type Entry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

// Service handles leaderboard scoring and ranking.
type Service struct {
	userRepo  UserRepository
	petRepo   PetRepository
	habitRepo HabitLogRepository
	entryRepo EntryRepository
	cache     RankingCache
	log       *logger.Logger
	now       func() time.Time
}

// NewService creates a new leaderboard service with concrete repository types.
// cache may be nil, in which case rankings are read from the database.
func NewService(
	userRepo *repository.UserRepository,
	petRepo *repository.PetRepository,
	habitRepo *repository.HabitLogRepository,
	entryRepo *repository.LeaderboardRepository,
	cache *RedisRanking,
	log *logger.Logger,
) *Service {
	var rc RankingCache
	if cache != nil {
		rc = cache
	}
	return NewServiceWithInterfaces(userRepo, petRepo, habitRepo, entryRepo, rc, log)
}

// NewServiceWithInterfaces creates a new leaderboard service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(
	userRepo UserRepository,
	petRepo PetRepository,
	habitRepo HabitLogRepository,
	entryRepo EntryRepository,
	cache RankingCache,
	log *logger.Logger,
) *Service {
	return &Service{
		userRepo:  userRepo,
		petRepo:   petRepo,
		habitRepo: habitRepo,
		entryRepo: entryRepo,
		cache:     cache,
		log:       log.Component("leaderboard"),
		now:       time.Now,
	}
}

// Recompute recalculates a user's weekly score from their current user
// document, active pet and habit logs of the last seven days, and upserts the
// weekly_{userId} entry.
func (s *Service) Recompute(ctx context.Context, userID string) (*models.LeaderboardEntry, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	var pet *models.Pet
	if user.HasActivePet() {
		pet, err = s.petRepo.Get(ctx, userID, *user.ActivePetID)
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn().Str("user_id", userID).Str("pet_id", *user.ActivePetID).Msg("Active pet not found, scoring without pet")
			pet = nil
		} else if err != nil {
			return nil, fmt.Errorf("failed to load active pet: %w", err)
		}
	}

	now := s.now().UTC()
	weeklyLogs, err := s.habitRepo.CountSince(ctx, userID, now.Add(-weeklyWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to count habit logs: %w", err)
	}

	entry := &models.LeaderboardEntry{
		ID:        models.LeaderboardEntryID(models.PeriodWeekly, userID),
		UserID:    userID,
		Username:  user.Username,
		Score:     engine.LeaderboardScore(user, pet, int(weeklyLogs)),
		Period:    models.PeriodWeekly,
		UpdatedAt: now,
	}
	if err := s.entryRepo.Upsert(ctx, entry); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, entry.Period, userID, entry.Score); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to update ranking cache")
		}
	}

	s.log.Debug().
		Str("user_id", userID).
		Int("score", entry.Score).
		Int64("weekly_logs", weeklyLogs).
		Msg("Leaderboard entry updated")

	return entry, nil
}

// Remove deletes every leaderboard entry of a user. Removing a user without
// entries is a no-op.
func (s *Service) Remove(ctx context.Context, userID string) error {
	n, err := s.entryRepo.DeleteByUser(ctx, userID)
	if err != nil {
		return err
	}

	if s.cache != nil {
		for _, period := range []models.LeaderboardPeriod{models.PeriodWeekly, models.PeriodMonthly, models.PeriodAllTime} {
			if err := s.cache.Remove(ctx, period, userID); err != nil {
				s.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to remove user from ranking cache")
			}
		}
	}

	s.log.Info().Str("user_id", userID).Int64("entries", n).Msg("Leaderboard entries removed")
	return nil
}

// Top returns the best ranked users of a period. The Redis ranking is used
// when available; the entries table serves as fallback.
func (s *Service) Top(ctx context.Context, period models.LeaderboardPeriod, limit int) ([]Entry, error) {
	if s.cache != nil {
		entries, err := s.topFromCache(ctx, period, limit)
		if err == nil && len(entries) > 0 {
			return entries, nil
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("Ranking cache unavailable, reading leaderboard from database")
		}
	}

	rows, err := s.entryRepo.Top(ctx, period, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for i, row := range rows {
		entries = append(entries, Entry{
			UserID:   row.UserID,
			Username: row.Username,
			Score:    row.Score,
			Rank:     i + 1,
		})
	}
	return entries, nil
}

func (s *Service) topFromCache(ctx context.Context, period models.LeaderboardPeriod, limit int) ([]Entry, error) {
	ranked, err := s.cache.Top(ctx, period, limit)
	if err != nil || len(ranked) == 0 {
		return nil, err
	}

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.UserID
	}
	docs, err := s.entryRepo.GetByUsers(ctx, period, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(ranked))
	for _, r := range ranked {
		doc, ok := docs[r.UserID]
		if !ok {
			// stale cache member, entry was deleted
			continue
		}
		entries = append(entries, Entry{
			UserID:   r.UserID,
			Username: doc.Username,
			Score:    r.Score,
			Rank:     len(entries) + 1,
		})
	}
	return entries, nil
}

// GetUserRank returns the 1-based rank of a user in a period.
func (s *Service) GetUserRank(ctx context.Context, period models.LeaderboardPeriod, userID string) (int, error) {
	if s.cache != nil {
		rank, err := s.cache.Rank(ctx, period, userID)
		if err == nil && rank > 0 {
			return rank, nil
		}
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("Ranking cache unavailable, ranking from database")
		}
	}

	entry, err := s.entryRepo.GetByUser(ctx, period, userID)
	if err != nil {
		return 0, err
	}
	above, err := s.entryRepo.CountAbove(ctx, period, entry.Score)
	if err != nil {
		return 0, err
	}
	return int(above) + 1, nil
}
