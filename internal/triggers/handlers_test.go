package triggers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitroyale/habit-engine/internal/config"
	"github.com/habitroyale/habit-engine/internal/events"
	"github.com/habitroyale/habit-engine/internal/models"
	"github.com/habitroyale/habit-engine/internal/repository"
	"github.com/habitroyale/habit-engine/internal/service/achievements"
	"github.com/habitroyale/habit-engine/internal/service/battles"
	"github.com/habitroyale/habit-engine/internal/service/leaderboard"
	"github.com/habitroyale/habit-engine/internal/service/progression"
	"github.com/habitroyale/habit-engine/pkg/logger"
	"github.com/habitroyale/habit-engine/test/mocks"
	"github.com/habitroyale/habit-engine/test/testdb"
)

type engineFixture struct {
	db         *repository.DB
	dispatcher *Dispatcher
	handlers   *Handlers
	pub        *mocks.Publisher
	changes    *events.Outbox
}

func setupEngine(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()

	db := testdb.New(t)
	pub := mocks.NewPublisher()
	rules := config.DefaultRules()
	prog := progression.NewService(rules, logger.Nop())

	changes := events.NewOutbox(db, pub, 0, logger.Nop())

	ach := achievements.NewService(db, prog, changes, logger.Nop())
	catalog, err := achievements.LoadCatalog("")
	require.NoError(t, err)
	require.NoError(t, ach.Seed(ctx, catalog))

	board := leaderboard.NewService(
		repository.NewUserRepository(db),
		repository.NewPetRepository(db),
		repository.NewHabitLogRepository(db),
		repository.NewLeaderboardRepository(db),
		nil,
		logger.Nop(),
	)
	battleService := battles.NewService(db, rules, prog, ach, changes, logger.Nop())

	handlers := NewHandlers(db, rules, board, battleService, ach, changes, logger.Nop())
	dispatcher := NewDispatcher(db, logger.Nop())
	handlers.Register(dispatcher)

	petID := "p1"
	users := repository.NewUserRepository(db)
	require.NoError(t, users.Create(ctx, &models.User{ID: "u1", Username: "alice", Level: 1, ActivePetID: &petID}))
	require.NoError(t, users.Create(ctx, &models.User{ID: "u2", Username: "bob", Level: 1}))

	return &engineFixture{db: db, dispatcher: dispatcher, handlers: handlers, pub: pub, changes: changes}
}

// drain relays staged changes and feeds every published change back through
// the dispatcher until nothing new is published.
func (f *engineFixture) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	seen := len(f.pub.Changes())
	for round := 0; round < 10; round++ {
		f.changes.RunOnce(ctx)
		published := f.pub.Changes()
		if len(published) == seen {
			return
		}
		for _, c := range published[seen:] {
			require.NoError(t, f.dispatcher.Dispatch(ctx, c))
		}
		seen = len(published)
	}
	t.Fatal("change feed did not settle")
}

func (f *engineFixture) createPet(t *testing.T, level int, tier models.EvolutionTier) *models.Pet {
	t.Helper()
	pet := &models.Pet{
		ID: "p1", UserID: "u1", Name: "Mochi",
		Level: level, Experience: (level - 1) * 50,
		Health: 80, MaxHealth: 100, Attack: 10, Defense: 10,
		EvolutionTier: tier, IsActive: true, LastFed: time.Now(),
	}
	require.NoError(t, repository.NewPetRepository(f.db).Create(context.Background(), pet))
	return pet
}

func (f *engineFixture) pet(t *testing.T) *models.Pet {
	t.Helper()
	pet, err := repository.NewPetRepository(f.db).Get(context.Background(), "u1", "p1")
	require.NoError(t, err)
	return pet
}

func (f *engineFixture) intents(t *testing.T, userID string, kind models.NotificationKind) int {
	t.Helper()
	list, err := repository.NewOutboxRepository(f.db).ListByUser(context.Background(), userID)
	require.NoError(t, err)
	n := 0
	for _, i := range list {
		if i.Kind == kind {
			n++
		}
	}
	return n
}

func TestPetEvolution_AppliesBumpOnce(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	stored := f.createPet(t, 2, models.TierBaby)
	before := *stored
	after := *stored
	after.Level = 3
	change := mustChange(t, events.PetDoc("u1", "p1"), &before, &after)

	require.NoError(t, f.handlers.PetEvolution(ctx, change, map[string]string{"userId": "u1", "petId": "p1"}))

	pet := f.pet(t)
	assert.Equal(t, models.TierYoung, pet.EvolutionTier)
	assert.Equal(t, 120, pet.MaxHealth)
	assert.Equal(t, 100, pet.Health)
	assert.Equal(t, 15, pet.Attack)
	assert.Equal(t, 15, pet.Defense)
	assert.Equal(t, 1, f.intents(t, "u1", models.NotifyEvolution))
	assert.Equal(t, 1, f.intents(t, "u1", models.NotifyAchievement))

	has, err := repository.NewAchievementRepository(f.db).HasUserAchievement(ctx, "u1", achievements.EvolutionAchievementID(models.TierYoung))
	require.NoError(t, err)
	assert.True(t, has)
	assert.Contains(t, f.pub.Paths(), "users/u1/pets/p1")

	// duplicate delivery of the same before/after pair
	require.NoError(t, f.handlers.PetEvolution(ctx, change, map[string]string{"userId": "u1", "petId": "p1"}))

	again := f.pet(t)
	assert.Equal(t, 120, again.MaxHealth)
	assert.Equal(t, 15, again.Attack)
	assert.Equal(t, 1, f.intents(t, "u1", models.NotifyEvolution))
	assert.Equal(t, 1, f.intents(t, "u1", models.NotifyAchievement))
}

func TestPetEvolution_NoTierChange(t *testing.T) {
	f := setupEngine(t)

	stored := f.createPet(t, 4, models.TierYoung)
	after := *stored
	after.Level = 5
	change := mustChange(t, events.PetDoc("u1", "p1"), stored, &after)

	require.NoError(t, f.handlers.PetEvolution(context.Background(), change, map[string]string{"userId": "u1", "petId": "p1"}))

	pet := f.pet(t)
	assert.Equal(t, 100, pet.MaxHealth)
	assert.Equal(t, 0, f.intents(t, "u1", models.NotifyEvolution))
}

func TestPetEvolution_DeletedPetIsSkipped(t *testing.T) {
	f := setupEngine(t)

	before := models.Pet{ID: "p9", UserID: "u1", Level: 2, EvolutionTier: models.TierBaby}
	after := before
	after.Level = 3
	change := mustChange(t, events.PetDoc("u1", "p9"), &before, &after)

	assert.NoError(t, f.handlers.PetEvolution(context.Background(), change, map[string]string{"userId": "u1", "petId": "p9"}))
}

func TestPetEvolution_MalformedSnapshot(t *testing.T) {
	f := setupEngine(t)

	change := mustChange(t, events.PetDoc("u1", "p1"), nil, &models.Pet{ID: "p1"})
	err := f.handlers.PetEvolution(context.Background(), change, map[string]string{"userId": "u1", "petId": "p1"})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestUserLeaderboard_WriteAndDelete(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	entries := repository.NewLeaderboardRepository(f.db)

	user, err := repository.NewUserRepository(f.db).GetByID(ctx, "u2")
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.Dispatch(ctx, mustChange(t, events.UserDoc("u2"), nil, user)))
	entry, err := entries.GetByUser(ctx, models.PeriodWeekly, "u2")
	require.NoError(t, err)
	assert.Equal(t, 25, entry.Score)

	require.NoError(t, repository.NewUserRepository(f.db).DeleteCascade(ctx, "u2"))
	require.NoError(t, f.dispatcher.Dispatch(ctx, mustChange(t, events.UserDoc("u2"), user, nil)))
	_, err = entries.GetByUser(ctx, models.PeriodWeekly, "u2")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// a late update for the deleted user is harmless
	require.NoError(t, f.dispatcher.Dispatch(ctx, mustChange(t, events.UserDoc("u2"), user, user)))
}

func TestBattleFlow_ScoreThenSettle(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.createPet(t, 1, models.TierBaby)

	questions := []models.BattleQuestion{
		{ID: "q1", PositiveWeighting: true},
		{ID: "q2", PositiveWeighting: false},
		{ID: "q3", PositiveWeighting: true},
	}
	battle := &models.Battle{
		ID: "b1", ChallengerID: "u1", DefenderID: "u2", Status: models.BattleActive,
		Questions: questions, ChallengerRatings: []int{8, 2, 10},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, repository.NewBattleRepository(f.db).Create(ctx, battle))

	before := *battle
	after := *battle
	after.DefenderRatings = []int{5, 5, 5}

	require.NoError(t, f.dispatcher.Dispatch(ctx, mustChange(t, events.BattleDoc("b1"), &before, &after)))

	scored, err := repository.NewBattleRepository(f.db).GetByID(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, models.BattleCompleted, scored.Status)
	assert.Equal(t, 27, *scored.ChallengerScore)
	assert.Equal(t, 16, *scored.DefenderScore)
	assert.Equal(t, "u1", *scored.WinnerID)

	// feed the published completion back through the dispatcher
	var completion *events.Change
	for _, c := range f.pub.Changes() {
		if c.Path == events.BattleDoc("b1") {
			c := c
			completion = &c
		}
	}
	require.NotNil(t, completion)
	require.NoError(t, f.dispatcher.Dispatch(ctx, *completion))
	require.NoError(t, f.dispatcher.Dispatch(ctx, *completion))

	stats, err := repository.NewBattleStatsRepository(f.db).Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 1, stats.TotalBattles)
	assert.Equal(t, 1, f.intents(t, "u1", models.NotifyBattleResult))
	assert.Equal(t, 1, f.intents(t, "u2", models.NotifyBattleResult))

	loser, err := repository.NewUserRepository(f.db).GetByID(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 10, loser.Experience)
}

func TestStreakAchievements(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	params := map[string]string{"userId": "u1", "streakId": "current"}
	path := "users/u1/streak/current"

	seven := mustChange(t, path, &models.Streak{ID: "current", UserID: "u1", Count: 6}, &models.Streak{ID: "current", UserID: "u1", Count: 7})
	require.NoError(t, f.handlers.StreakAchievements(ctx, seven, params))
	require.NoError(t, f.handlers.StreakAchievements(ctx, seven, params))

	eight := mustChange(t, path, &models.Streak{ID: "current", UserID: "u1", Count: 7}, &models.Streak{ID: "current", UserID: "u1", Count: 8})
	require.NoError(t, f.handlers.StreakAchievements(ctx, eight, params))

	held, err := repository.NewAchievementRepository(f.db).GetUserAchievements(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, achievements.StreakAchievementID(7), held[0].AchievementID)

	user, err := repository.NewUserRepository(f.db).GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 35, user.Experience)
}

func TestBattleFlow_PublishFailureStillSettles(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.createPet(t, 2, models.TierBaby)

	battle := &models.Battle{
		ID: "b1", ChallengerID: "u1", DefenderID: "u2", Status: models.BattleActive,
		Questions: []models.BattleQuestion{
			{ID: "q1", PositiveWeighting: true},
			{ID: "q2", PositiveWeighting: true},
		},
		ChallengerRatings: []int{9, 9},
		ExpiresAt:         time.Now().Add(time.Hour),
	}
	require.NoError(t, repository.NewBattleRepository(f.db).Create(ctx, battle))

	before := *battle
	after := *battle
	after.DefenderRatings = []int{2, 2}
	rated := mustChange(t, events.BattleDoc("b1"), &before, &after)

	f.pub.FailWith(errors.New("redis down"))
	require.NoError(t, f.dispatcher.Dispatch(ctx, rated))
	assert.Empty(t, f.pub.Changes())

	f.pub.FailWith(nil)
	require.NoError(t, f.dispatcher.Dispatch(ctx, rated))
	f.drain(t)

	stored, err := repository.NewBattleRepository(f.db).GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.BattleCompleted, stored.Status)
	assert.Equal(t, "u1", *stored.WinnerID)

	stats, err := repository.NewBattleStatsRepository(f.db).Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalBattles)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 1, f.intents(t, "u1", models.NotifyBattleResult))
	assert.Equal(t, 1, f.intents(t, "u2", models.NotifyBattleResult))

	loser, err := repository.NewUserRepository(f.db).GetByID(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 10, loser.Experience)

	// battle and first-win XP carry the pet from level 2 into level 3
	pet := f.pet(t)
	assert.Equal(t, 3, pet.Level)
	assert.Equal(t, models.TierYoung, pet.EvolutionTier)
	assert.Equal(t, 1, f.intents(t, "u1", models.NotifyEvolution))

	pending, err := repository.NewChangeRepository(f.db).CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestPetEvolution_PublishFailureKeepsChangeStaged(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	stored := f.createPet(t, 2, models.TierBaby)
	after := *stored
	after.Level = 3
	change := mustChange(t, events.PetDoc("u1", "p1"), stored, &after)

	f.pub.FailWith(errors.New("redis down"))
	require.NoError(t, f.handlers.PetEvolution(ctx, change, map[string]string{"userId": "u1", "petId": "p1"}))
	assert.Empty(t, f.pub.Changes())

	f.pub.FailWith(nil)
	res := f.changes.RunOnce(ctx)
	assert.Positive(t, res.Published)
	assert.Contains(t, f.pub.Paths(), "users/u1/pets/p1")

	var evolved models.Pet
	for _, c := range f.pub.Changes() {
		if c.Path == "users/u1/pets/p1" {
			require.NoError(t, c.DecodeAfter(&evolved))
		}
	}
	assert.Equal(t, models.TierYoung, evolved.EvolutionTier)
}
