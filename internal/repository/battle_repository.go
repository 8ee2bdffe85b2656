package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/habitroyale/habit-engine/internal/engine"
	"github.com/habitroyale/habit-engine/internal/models"
)

var openBattleStatuses = []models.BattleStatus{models.BattlePending, models.BattleActive}

// BattleRepository handles battle-related database operations.
type BattleRepository struct {
	db *DB
}

// NewBattleRepository creates a new battle repository.
func NewBattleRepository(db *DB) *BattleRepository {
	return &BattleRepository{db: db}
}

// Create creates a new battle.
func (r *BattleRepository) Create(ctx context.Context, battle *models.Battle) error {
	if err := r.db.WithContext(ctx).Create(battle).Error; err != nil {
		return fmt.Errorf("failed to create battle: %w", err)
	}
	return nil
}

// GetByID retrieves a battle by ID.
func (r *BattleRepository) GetByID(ctx context.Context, id string) (*models.Battle, error) {
	var battle models.Battle
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&battle).Error; err != nil {
		return nil, notFound(err, "battle", id)
	}
	return &battle, nil
}

// Transition moves a battle from one status to another. It returns
// ErrStaleWrite when the battle is no longer in the expected status and an
// error for transitions the lifecycle does not allow.
func (r *BattleRepository) Transition(ctx context.Context, id string, from, to models.BattleStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("battle %s: illegal transition %s -> %s", id, from, to)
	}
	result := r.db.WithContext(ctx).
		Model(&models.Battle{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return fmt.Errorf("failed to transition battle %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("battle %s not %s: %w", id, from, ErrStaleWrite)
	}
	return nil
}

// CompleteScored writes the scores and winner of an active battle and marks
// it completed. It returns false when the battle was no longer active.
func (r *BattleRepository) CompleteScored(ctx context.Context, id string, score engine.BattleScore, winnerID string, at time.Time) (bool, error) {
	var winner *string
	if winnerID != "" {
		winner = &winnerID
	}

	result := r.db.WithContext(ctx).
		Model(&models.Battle{}).
		Where("id = ? AND status = ?", id, models.BattleActive).
		Updates(map[string]interface{}{
			"status":           models.BattleCompleted,
			"winner_id":        winner,
			"challenger_score": score.Challenger,
			"defender_score":   score.Defender,
			"completed_at":     at,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to complete battle %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListExpirableIDs returns up to limit ids of open battles whose expiry lies
// before now, with id greater than afterID.
func (r *BattleRepository) ListExpirableIDs(ctx context.Context, afterID string, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Battle{}).
		Where("id > ? AND status IN ? AND expires_at < ?", afterID, openBattleStatuses, now).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expirable battles: %w", err)
	}
	return ids, nil
}

// ExpireBatch marks the given battles expired, re-checking status and expiry
// so battles completed in the meantime are left alone.
func (r *BattleRepository) ExpireBatch(ctx context.Context, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.Battle{}).
		Where("id IN ? AND status IN ? AND expires_at < ?", ids, openBattleStatuses, now).
		Update("status", models.BattleExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire battles: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RecordSettlement inserts the settlement marker of a battle. It returns
// false when the battle was already settled.
func (r *BattleRepository) RecordSettlement(ctx context.Context, battleID string, outcome models.BattleOutcome, at time.Time) (bool, error) {
	settlement := &models.BattleSettlement{
		BattleID:  battleID,
		Outcome:   outcome,
		SettledAt: at,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(settlement)
	if result.Error != nil {
		return false, fmt.Errorf("failed to record settlement of battle %s: %w", battleID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// BattleStatsRepository handles per-user battle counters.
type BattleStatsRepository struct {
	db *DB
}

// NewBattleStatsRepository creates a new battle stats repository.
func NewBattleStatsRepository(db *DB) *BattleStatsRepository {
	return &BattleStatsRepository{db: db}
}

// Get returns a user's counters, zero-valued when the user never battled.
func (r *BattleStatsRepository) Get(ctx context.Context, userID string) (*models.BattleStats, error) {
	var stats []models.BattleStats
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get battle stats of %s: %w", userID, err)
	}
	if len(stats) == 0 {
		return &models.BattleStats{UserID: userID}, nil
	}
	return &stats[0], nil
}

// ApplyResult folds one battle result into a user's counters, creating the
// row on first use. Call it inside a transaction.
func (r *BattleStatsRepository) ApplyResult(ctx context.Context, userID string, result models.BattleResult, at time.Time) (*models.BattleStats, error) {
	db := r.db.WithContext(ctx)

	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.BattleStats{UserID: userID}).Error; err != nil {
		return nil, fmt.Errorf("failed to init battle stats of %s: %w", userID, err)
	}

	var stats models.BattleStats
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&stats).Error
	if err != nil {
		return nil, notFound(err, "battle stats", userID)
	}

	stats.Record(result, at)
	if err := db.Save(&stats).Error; err != nil {
		return nil, fmt.Errorf("failed to save battle stats of %s: %w", userID, err)
	}
	return &stats, nil
}
