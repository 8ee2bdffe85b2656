package progression

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitroyale/habit-engine/internal/config"
	"github.com/habitroyale/habit-engine/internal/events"
	"github.com/habitroyale/habit-engine/internal/models"
	"github.com/habitroyale/habit-engine/internal/repository"
	"github.com/habitroyale/habit-engine/pkg/logger"
	"github.com/habitroyale/habit-engine/test/testdb"
)

func seedUser(t *testing.T, db *repository.DB, xp int, petID *string) {
	t.Helper()
	ctx := context.Background()

	user := &models.User{ID: "u1", Username: "alice", Experience: xp, Level: xp/100 + 1, ActivePetID: petID}
	require.NoError(t, repository.NewUserRepository(db).Create(ctx, user))
}

func seedPet(t *testing.T, db *repository.DB, xp int) {
	t.Helper()

	pet := &models.Pet{
		ID: "p1", UserID: "u1", Name: "Pip",
		Experience: xp, Level: xp/50 + 1,
		Health: 100, MaxHealth: 100, Attack: 10, Defense: 10,
		EvolutionTier: models.TierBaby, IsActive: true,
	}
	require.NoError(t, repository.NewPetRepository(db).Create(context.Background(), pet))
}

func TestAwardXP_UserAndPet(t *testing.T) {
	db := testdb.New(t)
	svc := NewService(config.DefaultRules(), logger.Nop())
	ctx := context.Background()

	petID := "p1"
	seedUser(t, db, 90, &petID)
	seedPet(t, db, 40)

	var result *Result
	err := db.Transaction(ctx, func(tx *repository.DB) error {
		var err error
		result, err = svc.AwardXP(ctx, tx, "u1", 30, "battle")
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 120, result.UserAfter.Experience)
	assert.Equal(t, 2, result.UserAfter.Level)
	assert.True(t, result.LeveledUp())
	require.NotNil(t, result.PetAfter)
	assert.Equal(t, 70, result.PetAfter.Experience)
	assert.Equal(t, 2, result.PetAfter.Level)
	assert.True(t, result.PetLeveledUp())

	user, err := repository.NewUserRepository(db).GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 120, user.Experience)
	assert.Equal(t, 2, user.Level)

	pet, err := repository.NewPetRepository(db).Get(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, 70, pet.Experience)
	assert.Equal(t, 2, pet.Level)

	changes, err := result.Changes()
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "users/u1", changes[0].Path)
	assert.Equal(t, "users/u1/pets/p1", changes[1].Path)
	assert.Equal(t, events.KindUpdate, changes[1].Kind)
}

func TestAwardXP_NoActivePet(t *testing.T) {
	db := testdb.New(t)
	svc := NewService(config.DefaultRules(), logger.Nop())
	ctx := context.Background()

	seedUser(t, db, 0, nil)

	var result *Result
	err := db.Transaction(ctx, func(tx *repository.DB) error {
		var err error
		result, err = svc.AwardXP(ctx, tx, "u1", 10, "battle")
		return err
	})
	require.NoError(t, err)
	assert.Nil(t, result.PetAfter)
	assert.Equal(t, 10, result.UserAfter.Experience)

	changes, err := result.Changes()
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestAwardXP_DanglingActivePet(t *testing.T) {
	db := testdb.New(t)
	svc := NewService(config.DefaultRules(), logger.Nop())
	ctx := context.Background()

	missing := "gone"
	seedUser(t, db, 0, &missing)

	err := db.Transaction(ctx, func(tx *repository.DB) error {
		_, err := svc.AwardXP(ctx, tx, "u1", 10, "achievement")
		return err
	})
	require.NoError(t, err)

	user, _ := repository.NewUserRepository(db).GetByID(ctx, "u1")
	assert.Equal(t, 10, user.Experience)
}

func TestAwardXP_MissingUserAborts(t *testing.T) {
	db := testdb.New(t)
	svc := NewService(config.DefaultRules(), logger.Nop())
	ctx := context.Background()

	err := db.Transaction(ctx, func(tx *repository.DB) error {
		_, err := svc.AwardXP(ctx, tx, "nobody", 10, "battle")
		return err
	})
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestAwardXP_NegativeAmount(t *testing.T) {
	db := testdb.New(t)
	svc := NewService(config.DefaultRules(), logger.Nop())

	_, err := svc.AwardXP(context.Background(), db, "u1", -5, "battle")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAwardXP_LevelMatchesExperience(t *testing.T) {
	db := testdb.New(t)
	svc := NewService(config.DefaultRules(), logger.Nop())
	ctx := context.Background()

	seedUser(t, db, 0, nil)

	for _, amount := range []int{5, 95, 1, 250, 49} {
		_, err := svc.AwardXP(ctx, db, "u1", amount, "test")
		require.NoError(t, err)

		user, err := repository.NewUserRepository(db).GetByID(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, user.Experience/100+1, user.Level)
	}
}
