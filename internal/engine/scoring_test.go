package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitroyale/habit-engine/internal/models"
)

func TestLevelForExperience(t *testing.T) {
	tests := []struct {
		xp         int
		xpPerLevel int
		want       int
	}{
		{0, 100, 1},
		{99, 100, 1},
		{100, 100, 2},
		{250, 100, 3},
		{49, 50, 1},
		{50, 50, 2},
		{120, 50, 3},
		{-10, 100, 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelForExperience(tt.xp, tt.xpPerLevel), "xp=%d per=%d", tt.xp, tt.xpPerLevel)
	}
}

func TestLevelForExperience_Monotonic(t *testing.T) {
	prev := LevelForExperience(0, UserXPPerLevel)
	for xp := 1; xp <= 5000; xp++ {
		level := LevelForExperience(xp, UserXPPerLevel)
		require.GreaterOrEqual(t, level, prev, "level decreased at xp=%d", xp)
		require.Equal(t, xp/100+1, level)
		prev = level
	}
}

func TestEvolutionTierForLevel(t *testing.T) {
	tests := []struct {
		level int
		want  models.EvolutionTier
	}{
		{0, models.TierEgg},
		{1, models.TierBaby},
		{2, models.TierBaby},
		{3, models.TierYoung},
		{7, models.TierYoung},
		{8, models.TierAdult},
		{14, models.TierAdult},
		{15, models.TierElite},
		{24, models.TierElite},
		{25, models.TierLegendary},
		{99, models.TierLegendary},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, EvolutionTierForLevel(tt.level), "level=%d", tt.level)
		})
	}
}

func TestEvolutionTierForLevel_MonotonicAndBoundaries(t *testing.T) {
	prev := EvolutionTierForLevel(0)
	for level := 1; level <= 40; level++ {
		tier := EvolutionTierForLevel(level)
		assert.GreaterOrEqual(t, tier, prev)
		prev = tier
	}

	for tier := models.TierEgg; tier <= models.TierLegendary; tier++ {
		assert.Equal(t, tier, EvolutionTierForLevel(MinLevelForTier(tier)))
	}
	assert.Equal(t, -1, MinLevelForTier(models.EvolutionTier(9)))
}

func TestLeaderboardScore(t *testing.T) {
	user := &models.User{Level: 5, Experience: 120}
	pet := &models.Pet{Level: 3, EvolutionTier: models.TierYoung}

	assert.Equal(t, 627, LeaderboardScore(user, pet, 14))
	// pet term omitted
	assert.Equal(t, 125+12+140, LeaderboardScore(user, nil, 14))
}

func TestScoreBattle(t *testing.T) {
	questions := []models.BattleQuestion{
		{ID: "q1", PositiveWeighting: true},
		{ID: "q2", PositiveWeighting: false},
		{ID: "q3", PositiveWeighting: true},
	}

	score, err := ScoreBattle(questions, []int{8, 2, 10}, []int{5, 5, 5})
	require.NoError(t, err)
	assert.Equal(t, 27, score.Challenger)
	assert.Equal(t, 16, score.Defender)
	assert.Equal(t, "alice", score.Winner("alice", "bob"))
}

func TestScoreBattle_Draw(t *testing.T) {
	questions := []models.BattleQuestion{{ID: "q1", PositiveWeighting: true}}

	score, err := ScoreBattle(questions, []int{6}, []int{6})
	require.NoError(t, err)
	assert.Equal(t, "", score.Winner("alice", "bob"))
}

func TestScoreBattle_Invalid(t *testing.T) {
	questions := []models.BattleQuestion{{ID: "q1", PositiveWeighting: true}, {ID: "q2"}}

	_, err := ScoreBattle(questions, []int{5}, []int{5, 5})
	assert.ErrorIs(t, err, ErrRatingsIncomplete)

	_, err = ScoreBattle(questions, []int{5, 11}, []int{5, 5})
	assert.ErrorIs(t, err, ErrRatingOutOfRange)

	_, err = ScoreBattle(questions, []int{0, 5}, []int{5, 5})
	assert.ErrorIs(t, err, ErrRatingOutOfRange)

	_, err = ScoreBattle(nil, nil, nil)
	assert.ErrorIs(t, err, ErrRatingsIncomplete)
}

func TestHealthDecay(t *testing.T) {
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	days := DaysSince(now.Add(-3*24*time.Hour), now)
	require.Equal(t, 3, days)

	newHealth := HealthDecay(50, days, 10)
	assert.Equal(t, 20, newHealth)
	assert.True(t, CrossedLowHealth(50, newHealth, 20))

	assert.Equal(t, 0, HealthDecay(15, 5, 10))
	assert.Equal(t, 40, HealthDecay(40, 0, 10))
	assert.Equal(t, 0, HealthDecay(0, 2, 10))
	assert.False(t, CrossedLowHealth(20, 10, 20))
}

func TestDaysSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, DaysSince(now.Add(-23*time.Hour), now))
	assert.Equal(t, 1, DaysSince(now.Add(-25*time.Hour), now))
	assert.Equal(t, 0, DaysSince(now.Add(time.Hour), now))
	assert.Greater(t, DaysSince(time.Time{}, now), 20000)
}

func TestApplyEvolution(t *testing.T) {
	pet := &models.Pet{Health: 90, MaxHealth: 100, Attack: 10, Defense: 12}

	bump := ApplyEvolution(pet, models.TierYoung, 20, 5)
	assert.Equal(t, models.TierYoung, bump.Tier)
	assert.Equal(t, 120, bump.MaxHealth)
	assert.Equal(t, 110, bump.Health)
	assert.Equal(t, 15, bump.Attack)
	assert.Equal(t, 17, bump.Defense)

	assert.Equal(t, 0, ClampHealth(-5, 100))
	assert.Equal(t, 100, ClampHealth(140, 100))
}
