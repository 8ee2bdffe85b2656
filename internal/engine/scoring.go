// Package engine contains the pure scoring and leveling rules of the game.
// Nothing here touches storage; every function is deterministic.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/habitroyale/habit-engine/internal/models"
)

// Default level curves.
const (
	UserXPPerLevel = 100
	PetXPPerLevel  = 50
)

// evolutionThresholds[i] is the minimum level of tier i.
var evolutionThresholds = [...]int{0, 1, 3, 8, 15, 25}

// LevelForExperience returns floor(xp/xpPerLevel)+1. Negative xp counts as zero.
func LevelForExperience(xp, xpPerLevel int) int {
	if xpPerLevel <= 0 {
		xpPerLevel = UserXPPerLevel
	}
	if xp < 0 {
		xp = 0
	}
	return xp/xpPerLevel + 1
}

// EvolutionTierForLevel returns the highest tier whose threshold is <= level.
func EvolutionTierForLevel(level int) models.EvolutionTier {
	tier := models.TierEgg
	for i, threshold := range evolutionThresholds {
		if level >= threshold {
			tier = models.EvolutionTier(i)
		}
	}
	return tier
}

// MinLevelForTier returns the threshold level of tier.
func MinLevelForTier(tier models.EvolutionTier) int {
	if tier < models.TierEgg || int(tier) >= len(evolutionThresholds) {
		return -1
	}
	return evolutionThresholds[tier]
}

// LeaderboardScore aggregates a user's raw counters into a ranking score.
// pet may be nil when the user has no active pet.
func LeaderboardScore(user *models.User, pet *models.Pet, weeklyHabitLogs int) int {
	score := user.Level*25 + user.Experience/10
	if pet != nil {
		score += pet.Level*50 + int(pet.EvolutionTier)*100
	}
	score += weeklyHabitLogs * 10
	return score
}

// Rating bounds for battle questions.
const (
	MinRating = 1
	MaxRating = 10
)

// Battle scoring errors.
var (
	ErrRatingsIncomplete = errors.New("ratings do not cover every question")
	ErrRatingOutOfRange  = errors.New("rating out of range")
)

// BattleScore holds both sides' totals.
type BattleScore struct {
	Challenger int
	Defender   int
}

// Winner returns the winning side's user id, or "" for a draw.
func (s BattleScore) Winner(challengerID, defenderID string) string {
	switch {
	case s.Challenger > s.Defender:
		return challengerID
	case s.Defender > s.Challenger:
		return defenderID
	default:
		return ""
	}
}

// questionPoints converts a 1..10 rating into points; negatively weighted
// questions are inverted so lower is better.
func questionPoints(q models.BattleQuestion, rating int) int {
	if q.PositiveWeighting {
		return rating
	}
	return 11 - rating
}

// ScoreBattle totals both rating arrays against the battle's questions.
func ScoreBattle(questions []models.BattleQuestion, challenger, defender []int) (BattleScore, error) {
	if len(questions) == 0 || len(challenger) != len(questions) || len(defender) != len(questions) {
		return BattleScore{}, ErrRatingsIncomplete
	}

	var score BattleScore
	for i, q := range questions {
		c, d := challenger[i], defender[i]
		if c < MinRating || c > MaxRating || d < MinRating || d > MaxRating {
			return BattleScore{}, fmt.Errorf("question %d: %w", i, ErrRatingOutOfRange)
		}
		score.Challenger += questionPoints(q, c)
		score.Defender += questionPoints(q, d)
	}
	return score, nil
}

// DaysSince returns whole days elapsed between from and now. A zero from
// counts as the Unix epoch; a future from yields 0.
func DaysSince(from, now time.Time) int {
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	if now.Before(from) {
		return 0
	}
	return int(now.Sub(from) / (24 * time.Hour))
}

// HealthDecay returns the pet's new health after daysSinceFed days without
// food. Decay is min(days*perDay, health); health never goes below zero.
func HealthDecay(health, daysSinceFed, perDay int) int {
	if health <= 0 {
		return 0
	}
	if daysSinceFed <= 0 {
		return health
	}
	decay := daysSinceFed * perDay
	if decay > health {
		decay = health
	}
	return health - decay
}

// CrossedLowHealth reports a transition from above the threshold to at or below it.
func CrossedLowHealth(before, after, threshold int) bool {
	return before > threshold && after <= threshold
}

// EvolutionBump is the stat change applied when a pet reaches a new tier.
type EvolutionBump struct {
	Tier      models.EvolutionTier
	MaxHealth int
	Health    int
	Attack    int
	Defense   int
}

// ApplyEvolution computes the bumped stats for pet moving into tier.
func ApplyEvolution(pet *models.Pet, tier models.EvolutionTier, healthBonus, statBonus int) EvolutionBump {
	maxHealth := pet.MaxHealth + healthBonus
	return EvolutionBump{
		Tier:      tier,
		MaxHealth: maxHealth,
		Health:    ClampHealth(pet.Health+healthBonus, maxHealth),
		Attack:    pet.Attack + statBonus,
		Defense:   pet.Defense + statBonus,
	}
}

// ClampHealth keeps health within [0, maxHealth].
func ClampHealth(health, maxHealth int) int {
	if health < 0 {
		return 0
	}
	if health > maxHealth {
		return maxHealth
	}
	return health
}
