package triggers

import (
	"github.com/habitroyale/habit-engine/internal/engine"
	"github.com/habitroyale/habit-engine/internal/models"
)

// PetEvolutionDue reports whether a pet update raised the level into a tier
// other than the stored one, and returns that tier.
func PetEvolutionDue(before, after *models.Pet) (models.EvolutionTier, bool) {
	if after.Level <= before.Level {
		return after.EvolutionTier, false
	}
	tier := engine.EvolutionTierForLevel(after.Level)
	return tier, tier != after.EvolutionTier
}

// BattleReadyForScoring reports whether an active battle became complete
// with this update: both sides have rated every question now, but not before.
func BattleReadyForScoring(before, after *models.Battle) bool {
	return scorable(after) && !scorable(before)
}

func scorable(b *models.Battle) bool {
	return b.Status == models.BattleActive && b.ChallengerReady() && b.DefenderReady()
}

// BattleJustCompleted reports a status transition into completed.
func BattleJustCompleted(before, after *models.Battle) bool {
	return after.Status == models.BattleCompleted && before.Status != models.BattleCompleted
}

// StreakMilestonesHit returns the milestones equal to count. Only exact hits
// count, so a streak jumping past a milestone does not unlock it.
func StreakMilestonesHit(count int, milestones []int) []int {
	var hit []int
	for _, m := range milestones {
		if count == m {
			hit = append(hit, m)
		}
	}
	return hit
}
