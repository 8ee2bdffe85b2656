package triggers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/habitroyale/habit-engine/internal/config"
	"github.com/habitroyale/habit-engine/internal/engine"
	"github.com/habitroyale/habit-engine/internal/events"
	prommetrics "github.com/habitroyale/habit-engine/internal/metrics"
	"github.com/habitroyale/habit-engine/internal/models"
	"github.com/habitroyale/habit-engine/internal/repository"
	"github.com/habitroyale/habit-engine/internal/service/achievements"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

// Trigger names used in logs and metrics.
const (
	TriggerPetEvolution       = "pet_evolution"
	TriggerPetLeaderboard     = "pet_leaderboard"
	TriggerUserLeaderboard    = "user_leaderboard"
	TriggerBattleScoring      = "battle_scoring"
	TriggerBattleCompletion   = "battle_completion"
	TriggerStreakAchievements = "streak_achievements"
)

// LeaderboardUpdater maintains leaderboard entries.
type LeaderboardUpdater interface {
	Recompute(ctx context.Context, userID string) (*models.LeaderboardEntry, error)
	Remove(ctx context.Context, userID string) error
}

// BattleProcessor scores and settles battles.
type BattleProcessor interface {
	Score(ctx context.Context, battle *models.Battle) (bool, error)
	Settle(ctx context.Context, battle *models.Battle) (bool, error)
}

// AchievementAwarder unlocks achievements.
type AchievementAwarder interface {
	Award(ctx context.Context, userID, achievementID string) (bool, error)
}

// Handlers holds the rule implementations.
type Handlers struct {
	db           *repository.DB
	rules        config.RulesConfig
	leaderboard  LeaderboardUpdater
	battles      BattleProcessor
	achievements AchievementAwarder
	changes      *events.Outbox
	log          *logger.Logger
}

// NewHandlers creates the rule handlers. changes may be nil.
func NewHandlers(
	db *repository.DB,
	rules config.RulesConfig,
	leaderboard LeaderboardUpdater,
	battles BattleProcessor,
	achievements AchievementAwarder,
	changes *events.Outbox,
	log *logger.Logger,
) *Handlers {
	return &Handlers{
		db:           db,
		rules:        rules,
		leaderboard:  leaderboard,
		battles:      battles,
		achievements: achievements,
		changes:      changes,
		log:          log.Component("triggers"),
	}
}

// Register wires every rule into d.
func (h *Handlers) Register(d *Dispatcher) {
	anyWrite := []events.Kind{events.KindCreate, events.KindUpdate, events.KindDelete}
	updates := []events.Kind{events.KindUpdate}

	d.Register(events.PetPath, updates, TriggerPetEvolution, h.PetEvolution)
	d.Register(events.PetPath, updates, TriggerPetLeaderboard, h.PetLeaderboard)
	d.Register(events.UserPath, anyWrite, TriggerUserLeaderboard, h.UserLeaderboard)
	d.Register(events.BattlePath, updates, TriggerBattleScoring, h.BattleScoring)
	d.Register(events.BattlePath, updates, TriggerBattleCompletion, h.BattleCompletion)
	d.Register(events.StreakPath, []events.Kind{events.KindCreate, events.KindUpdate}, TriggerStreakAchievements, h.StreakAchievements)
}

func decodePair(change events.Change, before, after interface{}) error {
	if err := change.DecodeBefore(before); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := change.DecodeAfter(after); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// PetEvolution bumps a pet into the tier of its new level and stages the
// resulting pet change in the same transaction. The bump is a
// compare-and-set on the stored tier, so a duplicate delivery changes
// nothing. The achievement is awarded after commit and its failure is only
// logged.
func (h *Handlers) PetEvolution(ctx context.Context, change events.Change, params map[string]string) error {
	var before, after models.Pet
	if err := decodePair(change, &before, &after); err != nil {
		return err
	}

	tier, due := PetEvolutionDue(&before, &after)
	if !due {
		return nil
	}

	userID, petID := params["userId"], params["petId"]
	var (
		applied bool
		staged  events.Staged
	)
	err := h.db.Transaction(ctx, func(tx *repository.DB) error {
		pets := repository.NewPetRepository(tx)
		pet, err := pets.GetForUpdate(ctx, userID, petID)
		if err != nil {
			return err
		}
		current := *pet

		bump := engine.ApplyEvolution(pet, tier, h.rules.EvolutionHealth, h.rules.EvolutionStat)
		applied, err = pets.ApplyEvolution(ctx, petID, bump)
		if err != nil || !applied {
			return err
		}

		bumped := current
		bumped.EvolutionTier = bump.Tier
		bumped.MaxHealth = bump.MaxHealth
		bumped.Health = bump.Health
		bumped.Attack = bump.Attack
		bumped.Defense = bump.Defense

		if err := repository.NewOutboxRepository(tx).Enqueue(ctx, evolutionIntent(&bumped)); err != nil {
			return err
		}
		evolved, err := events.NewChange(change.Path, &current, &bumped)
		if err != nil {
			return err
		}
		staged, err = h.changes.Stage(ctx, tx, evolved)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		h.log.Warn().Str("user_id", userID).Str("pet_id", petID).Msg("Pet no longer exists, evolution skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to evolve pet %s: %w", petID, err)
	}
	if !applied {
		h.log.Debug().Str("pet_id", petID).Int("tier", int(tier)).Msg("Evolution already applied")
		return nil
	}

	prommetrics.RecordEvolution(tier.String())
	h.log.Info().
		Str("user_id", userID).
		Str("pet_id", petID).
		Str("tier", tier.String()).
		Int("level", after.Level).
		Msg("Pet evolved")

	h.changes.Flush(ctx, staged)

	if h.achievements != nil {
		if _, err := h.achievements.Award(ctx, userID, achievements.EvolutionAchievementID(tier)); err != nil {
			h.log.Error().Err(err).Str("user_id", userID).Str("tier", tier.String()).Msg("Failed to award evolution achievement")
		}
	}
	return nil
}

// PetLeaderboard recomputes the owner's score after a pet update.
func (h *Handlers) PetLeaderboard(ctx context.Context, _ events.Change, params map[string]string) error {
	return h.recompute(ctx, params["userId"])
}

// UserLeaderboard removes the entries of a deleted user and recomputes the
// score of a created or updated one.
func (h *Handlers) UserLeaderboard(ctx context.Context, change events.Change, params map[string]string) error {
	userID := params["userId"]
	if !change.AfterExists() {
		return h.leaderboard.Remove(ctx, userID)
	}
	return h.recompute(ctx, userID)
}

func (h *Handlers) recompute(ctx context.Context, userID string) error {
	_, err := h.leaderboard.Recompute(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		h.log.Debug().Str("user_id", userID).Msg("User gone, leaderboard recompute skipped")
		return nil
	}
	return err
}

// BattleScoring scores an active battle once both sides rated every question.
func (h *Handlers) BattleScoring(ctx context.Context, change events.Change, _ map[string]string) error {
	var before, after models.Battle
	if err := decodePair(change, &before, &after); err != nil {
		return err
	}
	if !BattleReadyForScoring(&before, &after) {
		return nil
	}
	_, err := h.battles.Score(ctx, &after)
	return err
}

// BattleCompletion settles a battle whose status just became completed.
func (h *Handlers) BattleCompletion(ctx context.Context, change events.Change, _ map[string]string) error {
	var before, after models.Battle
	if err := decodePair(change, &before, &after); err != nil {
		return err
	}
	if !BattleJustCompleted(&before, &after) {
		return nil
	}
	_, err := h.battles.Settle(ctx, &after)
	return err
}

// StreakAchievements awards the streak achievement of a milestone the
// streak counter hit exactly.
func (h *Handlers) StreakAchievements(ctx context.Context, change events.Change, params map[string]string) error {
	var streak models.Streak
	if err := change.DecodeAfter(&streak); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	userID := params["userId"]
	var errs []error
	for _, milestone := range StreakMilestonesHit(streak.Count, h.rules.StreakMilestones) {
		if _, err := h.achievements.Award(ctx, userID, achievements.StreakAchievementID(milestone)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var tierDisplayNames = map[models.EvolutionTier]string{
	models.TierEgg:       "an Egg",
	models.TierBaby:      "a Baby",
	models.TierYoung:     "Young",
	models.TierAdult:     "an Adult",
	models.TierElite:     "Elite",
	models.TierLegendary: "Legendary",
}

func evolutionIntent(pet *models.Pet) *models.NotificationIntent {
	return &models.NotificationIntent{
		UserID: pet.UserID,
		Kind:   models.NotifyEvolution,
		Title:  fmt.Sprintf("%s has evolved! 🎉", pet.Name),
		Body:   fmt.Sprintf("Your pet is now %s!", tierDisplayNames[pet.EvolutionTier]),
		Data: map[string]string{
			"type":      string(models.NotifyEvolution),
			"petName":   pet.Name,
			"petId":     pet.ID,
			"evolution": strconv.Itoa(int(pet.EvolutionTier)),
		},
	}
}
