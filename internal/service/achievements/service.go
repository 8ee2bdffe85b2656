// Package achievements loads the achievement catalog and awards achievements.
package achievements

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/habitroyale/habit-engine/internal/events"
	prommetrics "github.com/habitroyale/habit-engine/internal/metrics"
	"github.com/habitroyale/habit-engine/internal/models"
	"github.com/habitroyale/habit-engine/internal/repository"
	"github.com/habitroyale/habit-engine/internal/service/progression"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

// ErrUnknownAchievement is returned for ids missing from the catalog.
var ErrUnknownAchievement = errors.New("unknown achievement")

// Service handles achievement awards.
type Service struct {
	db          *repository.DB
	progression *progression.Service
	changes     *events.Outbox
	log         *logger.Logger

	mu      sync.RWMutex
	catalog map[string]models.Achievement
}

// NewService creates a new achievement service. changes may be nil.
func NewService(db *repository.DB, progression *progression.Service, changes *events.Outbox, log *logger.Logger) *Service {
	return &Service{
		db:          db,
		progression: progression,
		changes:     changes,
		log:         log.Component("achievements"),
		catalog:     make(map[string]models.Achievement),
	}
}

// Seed writes the catalog to the database and makes it available for awards.
func (s *Service) Seed(ctx context.Context, catalog []models.Achievement) error {
	if err := repository.NewAchievementRepository(s.db).UpsertCatalog(ctx, catalog); err != nil {
		return err
	}

	s.mu.Lock()
	for _, a := range catalog {
		s.catalog[a.ID] = a
	}
	s.mu.Unlock()

	s.log.Info().Int("achievements", len(catalog)).Msg("Achievement catalog seeded")
	return nil
}

// Catalog returns the loaded catalog sorted by id.
func (s *Service) Catalog() []models.Achievement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]models.Achievement, 0, len(s.catalog))
	for _, a := range s.catalog {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (s *Service) lookup(id string) (models.Achievement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.catalog[id]
	return a, ok
}

// Award unlocks an achievement for a user at most once. When newly awarded,
// the reward XP is granted, its changes are staged and an ACHIEVEMENT
// notification is queued in the same transaction. It returns false when the
// user already held it.
func (s *Service) Award(ctx context.Context, userID, achievementID string) (bool, error) {
	achievement, ok := s.lookup(achievementID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownAchievement, achievementID)
	}

	var (
		awarded bool
		staged  events.Staged
	)
	err := s.db.Transaction(ctx, func(tx *repository.DB) error {
		inserted, err := repository.NewAchievementRepository(tx).Award(ctx, userID, achievementID, time.Now().UTC())
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		awarded = true

		if achievement.XPReward > 0 {
			result, err := s.progression.AwardXP(ctx, tx, userID, achievement.XPReward, "achievement")
			if err != nil {
				return err
			}
			changes, err := result.Changes()
			if err != nil {
				return err
			}
			if staged, err = s.changes.Stage(ctx, tx, changes...); err != nil {
				return err
			}
		}

		return repository.NewOutboxRepository(tx).Enqueue(ctx, achievementIntent(userID, &achievement))
	})
	if err != nil {
		return false, fmt.Errorf("failed to award %s to %s: %w", achievementID, userID, err)
	}

	if !awarded {
		s.log.Debug().
			Str("user_id", userID).
			Str("achievement", achievementID).
			Msg("Achievement already awarded")
		return false, nil
	}

	prommetrics.RecordAchievementAwarded(achievementID, string(achievement.Category))
	s.log.Info().
		Str("user_id", userID).
		Str("achievement", achievementID).
		Int("xp_reward", achievement.XPReward).
		Msg("Achievement awarded")

	s.changes.Flush(ctx, staged)
	return true, nil
}

// UserAchievements returns the achievements a user unlocked, newest first.
func (s *Service) UserAchievements(ctx context.Context, userID string) ([]models.UserAchievement, error) {
	return repository.NewAchievementRepository(s.db).GetUserAchievements(ctx, userID)
}

// HolderCounts returns how many users unlocked each catalog achievement.
func (s *Service) HolderCounts(ctx context.Context) (map[string]int64, error) {
	repo := repository.NewAchievementRepository(s.db)
	catalog := s.Catalog()

	counts := make(map[string]int64, len(catalog))
	for _, a := range catalog {
		n, err := repo.HoldersCount(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		counts[a.ID] = n
	}
	return counts, nil
}

// MarkSeen clears the new flag of every achievement a user holds.
func (s *Service) MarkSeen(ctx context.Context, userID string) error {
	return repository.NewAchievementRepository(s.db).MarkSeen(ctx, userID)
}

func achievementIntent(userID string, a *models.Achievement) *models.NotificationIntent {
	return &models.NotificationIntent{
		UserID: userID,
		Kind:   models.NotifyAchievement,
		Title:  "New achievement unlocked! 🌟",
		Body:   a.Title,
		Data: map[string]string{
			"type":                   string(models.NotifyAchievement),
			"achievementId":          a.ID,
			"achievementTitle":       a.Title,
			"achievementDescription": a.Description,
		},
	}
}
