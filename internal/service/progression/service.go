// Package progression awards experience to a user and their active pet.
package progression

import (
	"context"
	"errors"
	"fmt"

	"github.com/habitroyale/habit-engine/internal/config"
	"github.com/habitroyale/habit-engine/internal/engine"
	"github.com/habitroyale/habit-engine/internal/events"
	"github.com/habitroyale/habit-engine/internal/metrics"
	"github.com/habitroyale/habit-engine/internal/models"
	"github.com/habitroyale/habit-engine/internal/repository"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

// ErrInvalidAmount is returned for negative awards.
var ErrInvalidAmount = errors.New("xp amount must not be negative")

// Result holds the documents touched by an award. Pet fields are nil when
// the user had no active pet.
type Result struct {
	UserBefore models.User
	UserAfter  models.User
	PetBefore  *models.Pet
	PetAfter   *models.Pet
}

// LeveledUp reports whether the user gained a level.
func (r *Result) LeveledUp() bool {
	return r.UserAfter.Level > r.UserBefore.Level
}

// PetLeveledUp reports whether the active pet gained a level.
func (r *Result) PetLeveledUp() bool {
	return r.PetBefore != nil && r.PetAfter != nil && r.PetAfter.Level > r.PetBefore.Level
}

// Changes returns the change events describing the award, user first.
func (r *Result) Changes() ([]events.Change, error) {
	userChange, err := events.NewChange(events.UserDoc(r.UserAfter.ID), r.UserBefore, r.UserAfter)
	if err != nil {
		return nil, err
	}
	changes := []events.Change{userChange}

	if r.PetBefore != nil && r.PetAfter != nil {
		petChange, err := events.NewChange(events.PetDoc(r.PetAfter.UserID, r.PetAfter.ID), r.PetBefore, r.PetAfter)
		if err != nil {
			return nil, err
		}
		changes = append(changes, petChange)
	}
	return changes, nil
}

// Service applies experience awards.
type Service struct {
	rules config.RulesConfig
	log   *logger.Logger
}

// NewService creates a new progression service.
func NewService(rules config.RulesConfig, log *logger.Logger) *Service {
	return &Service{rules: rules, log: log.Component("progression")}
}

// AwardXP adds amount experience to the user and their active pet inside tx,
// recomputing both levels. The user and pet rows are locked for the rest of
// the transaction. A missing user aborts with repository.ErrNotFound; a
// dangling active pet reference awards the user only.
func (s *Service) AwardXP(ctx context.Context, tx *repository.DB, userID string, amount int, reason string) (*Result, error) {
	if amount < 0 {
		return nil, fmt.Errorf("award %d to %s: %w", amount, userID, ErrInvalidAmount)
	}

	users := repository.NewUserRepository(tx)
	user, err := users.GetForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &Result{UserBefore: *user, UserAfter: *user}
	result.UserAfter.Experience = user.Experience + amount
	result.UserAfter.Level = engine.LevelForExperience(result.UserAfter.Experience, s.rules.UserXPPerLevel)

	if err := users.UpdateProgress(ctx, userID, result.UserAfter.Experience, result.UserAfter.Level); err != nil {
		return nil, err
	}

	if user.HasActivePet() {
		pets := repository.NewPetRepository(tx)
		pet, err := pets.GetForUpdate(ctx, userID, *user.ActivePetID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			s.log.Warn().
				Str("user_id", userID).
				Str("pet_id", *user.ActivePetID).
				Msg("Active pet not found, awarding user only")
		case err != nil:
			return nil, err
		default:
			before := *pet
			after := *pet
			after.Experience = pet.Experience + amount
			after.Level = engine.LevelForExperience(after.Experience, s.rules.PetXPPerLevel)
			if err := pets.UpdateProgress(ctx, pet.ID, after.Experience, after.Level); err != nil {
				return nil, err
			}
			result.PetBefore = &before
			result.PetAfter = &after
		}
	}

	metrics.RecordXPAwarded(reason, amount)

	s.log.Debug().
		Str("user_id", userID).
		Str("reason", reason).
		Int("amount", amount).
		Int("level", result.UserAfter.Level).
		Msg("Awarded XP")

	return result, nil
}
