package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitroyale/habit-engine/internal/config"
	"github.com/habitroyale/habit-engine/internal/events"
	prommetrics "github.com/habitroyale/habit-engine/internal/metrics"
	"github.com/habitroyale/habit-engine/internal/models"
	"github.com/habitroyale/habit-engine/internal/repository"
	"github.com/habitroyale/habit-engine/internal/service/leaderboard"
	"github.com/habitroyale/habit-engine/pkg/logger"
	"github.com/habitroyale/habit-engine/test/mocks"
	"github.com/habitroyale/habit-engine/test/testdb"
)

type fixture struct {
	service *Service
	db      *repository.DB
	pub     *mocks.Publisher
	changes *events.Outbox
	now     time.Time
}

func setupService(t *testing.T, location *time.Location) *fixture {
	t.Helper()

	db := testdb.New(t)
	board := leaderboard.NewService(
		repository.NewUserRepository(db),
		repository.NewPetRepository(db),
		repository.NewHabitLogRepository(db),
		repository.NewLeaderboardRepository(db),
		nil,
		logger.Nop(),
	)

	f := &fixture{
		db:  db,
		pub: mocks.NewPublisher(),
		now: time.Date(2026, 5, 10, 10, 0, 0, 0, time.UTC),
	}
	f.changes = events.NewOutbox(db, f.pub, 0, logger.Nop())
	f.service = NewService(db, config.DefaultRules(), 2, location, board, f.changes, logger.Nop())
	f.service.now = func() time.Time { return f.now }

	require.NoError(t, repository.NewUserRepository(db).Create(context.Background(), &models.User{ID: "u1", Username: "alice", Level: 1}))
	return f
}

func (f *fixture) createPet(t *testing.T, id string, health int, lastFed time.Time, lastDecay *time.Time) {
	t.Helper()
	pet := &models.Pet{
		ID:              id,
		UserID:          "u1",
		Name:            "Pet " + id,
		Level:           1,
		Health:          health,
		MaxHealth:       100,
		Attack:          10,
		Defense:         10,
		LastFed:         lastFed,
		LastHealthDecay: lastDecay,
	}
	require.NoError(t, repository.NewPetRepository(f.db).Create(context.Background(), pet))
}

func (f *fixture) health(t *testing.T, id string) int {
	t.Helper()
	pet, err := repository.NewPetRepository(f.db).Get(context.Background(), "u1", id)
	require.NoError(t, err)
	return pet.Health
}

func TestHealthDecay(t *testing.T) {
	f := setupService(t, time.UTC)
	ctx := context.Background()

	earlierToday := f.now.Add(-time.Hour)
	f.createPet(t, "p1", 50, f.now.Add(-3*24*time.Hour), nil)
	f.createPet(t, "p2", 100, f.now.Add(-2*time.Hour), nil)
	f.createPet(t, "p3", 5, f.now.Add(-2*24*time.Hour), nil)
	f.createPet(t, "p4", 80, f.now.Add(-5*24*time.Hour), &earlierToday)
	f.createPet(t, "p5", 90, f.now.Add(-24*time.Hour), nil)

	runsBefore := testutil.ToFloat64(prommetrics.JobRunsTotal.WithLabelValues(JobHealthDecay, "success"))

	res, err := f.service.HealthDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 5, Updated: 3, Failed: 0}, res)

	assert.Equal(t, 20, f.health(t, "p1"))
	assert.Equal(t, 100, f.health(t, "p2"))
	assert.Equal(t, 0, f.health(t, "p3"))
	assert.Equal(t, 80, f.health(t, "p4"))
	assert.Equal(t, 80, f.health(t, "p5"))

	intents, err := repository.NewOutboxRepository(f.db).ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, models.NotifyLowHealth, intents[0].Kind)
	assert.Equal(t, "p1", intents[0].Data["petId"])
	assert.Equal(t, "Pet p1 needs attention!", intents[0].Title)

	assert.Len(t, f.pub.Changes(), 3)
	assert.Equal(t, runsBefore+1, testutil.ToFloat64(prommetrics.JobRunsTotal.WithLabelValues(JobHealthDecay, "success")))
}

func TestHealthDecay_PublishesEachPageOnCommit(t *testing.T) {
	f := setupService(t, time.UTC)
	ctx := context.Background()

	f.createPet(t, "p1", 90, f.now.Add(-2*24*time.Hour), nil)
	f.createPet(t, "p2", 90, f.now.Add(-2*24*time.Hour), nil)
	f.createPet(t, "p3", 90, f.now.Add(-2*24*time.Hour), nil)

	// health of the second page's pet at the time each change goes out
	var seen []int
	pub := events.PublisherFunc(func(_ context.Context, _ events.Change) error {
		seen = append(seen, f.health(t, "p3"))
		return nil
	})
	f.service.changes = events.NewOutbox(f.db, pub, 0, logger.Nop())

	res, err := f.service.HealthDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Updated)
	assert.Equal(t, []int{90, 90, 70}, seen)
}

func TestHealthDecay_PublishFailureKeepsChangesStaged(t *testing.T) {
	f := setupService(t, time.UTC)
	ctx := context.Background()

	f.createPet(t, "p1", 50, f.now.Add(-3*24*time.Hour), nil)
	f.createPet(t, "p2", 90, f.now.Add(-2*24*time.Hour), nil)
	f.createPet(t, "p3", 90, f.now.Add(-24*time.Hour), nil)

	f.pub.FailWith(errors.New("redis down"))
	res, err := f.service.HealthDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Updated)
	assert.Empty(t, f.pub.Changes())

	pending, err := repository.NewChangeRepository(f.db).CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pending)

	f.pub.FailWith(nil)
	relayed := f.changes.RunOnce(ctx)
	assert.Equal(t, 3, relayed.Published)
	assert.Equal(t, []string{"users/u1/pets/p1", "users/u1/pets/p2", "users/u1/pets/p3"}, f.pub.Paths())
}

func TestHealthDecay_SameDayRerunIsNoop(t *testing.T) {
	f := setupService(t, time.UTC)
	ctx := context.Background()

	f.createPet(t, "p1", 50, f.now.Add(-3*24*time.Hour), nil)

	_, err := f.service.HealthDecay(ctx)
	require.NoError(t, err)
	require.Equal(t, 20, f.health(t, "p1"))

	f.now = f.now.Add(6 * time.Hour)
	res, err := f.service.HealthDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 20, f.health(t, "p1"))

	intents, err := repository.NewOutboxRepository(f.db).ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, intents, 1)

	f.now = f.now.Add(24 * time.Hour)
	res, err = f.service.HealthDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, f.health(t, "p1"))
}

func TestHealthDecay_DayBoundaryUsesJobTimezone(t *testing.T) {
	berlinSummer := time.FixedZone("CEST", 2*60*60)
	f := setupService(t, berlinSummer)
	ctx := context.Background()

	// 23:30 UTC is already the next day at UTC+2
	f.now = time.Date(2026, 5, 10, 23, 30, 0, 0, time.UTC)
	lastDecay := time.Date(2026, 5, 10, 21, 0, 0, 0, time.UTC)
	f.createPet(t, "p1", 60, f.now.Add(-2*24*time.Hour), &lastDecay)

	res, err := f.service.HealthDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 40, f.health(t, "p1"))
}

func TestBattleExpiry(t *testing.T) {
	f := setupService(t, time.UTC)
	ctx := context.Background()
	battles := repository.NewBattleRepository(f.db)

	past := f.now.Add(-time.Hour)
	future := f.now.Add(time.Hour)
	for _, b := range []models.Battle{
		{ID: "b1", ChallengerID: "u1", DefenderID: "u2", Status: models.BattlePending, ExpiresAt: past},
		{ID: "b2", ChallengerID: "u1", DefenderID: "u2", Status: models.BattleActive, ExpiresAt: past},
		{ID: "b3", ChallengerID: "u1", DefenderID: "u2", Status: models.BattleCompleted, ExpiresAt: past},
		{ID: "b4", ChallengerID: "u1", DefenderID: "u2", Status: models.BattlePending, ExpiresAt: future},
		{ID: "b5", ChallengerID: "u1", DefenderID: "u2", Status: models.BattleActive, ExpiresAt: past},
	} {
		battle := b
		require.NoError(t, battles.Create(ctx, &battle))
	}

	res, err := f.service.BattleExpiry(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 3, Updated: 3}, res)

	want := map[string]models.BattleStatus{
		"b1": models.BattleExpired,
		"b2": models.BattleExpired,
		"b3": models.BattleCompleted,
		"b4": models.BattlePending,
		"b5": models.BattleExpired,
	}
	for id, status := range want {
		battle, err := battles.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, battle.Status, id)
	}

	res, err = f.service.BattleExpiry(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestLeaderboardRebuild(t *testing.T) {
	f := setupService(t, time.UTC)
	ctx := context.Background()
	users := repository.NewUserRepository(f.db)

	require.NoError(t, users.Create(ctx, &models.User{ID: "u2", Username: "bob", Level: 3, Experience: 250}))
	require.NoError(t, users.Create(ctx, &models.User{ID: "u3", Username: "carol", Level: 2, Experience: 100}))

	res, err := f.service.LeaderboardRebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 3, Updated: 3}, res)

	top, err := repository.NewLeaderboardRepository(f.db).Top(ctx, models.PeriodWeekly, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "u2", top[0].UserID)
	assert.Equal(t, 100, top[0].Score)
}
