package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/habitroyale/habit-engine/internal/models"
)

// LeaderboardRepository handles leaderboard entry documents.
type LeaderboardRepository struct {
	db *DB
}

// NewLeaderboardRepository creates a new leaderboard repository.
func NewLeaderboardRepository(db *DB) *LeaderboardRepository {
	return &LeaderboardRepository{db: db}
}

// Upsert writes an entry, merging username, score and timestamp into an
// existing row with the same id.
func (r *LeaderboardRepository) Upsert(ctx context.Context, entry *models.LeaderboardEntry) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "username", "score", "period", "updated_at"}),
		}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to upsert leaderboard entry %s: %w", entry.ID, err)
	}
	return nil
}

// DeleteByUser removes every entry of a user. Deleting a missing user is not
// an error.
func (r *LeaderboardRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.LeaderboardEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete leaderboard entries of %s: %w", userID, result.Error)
	}
	return result.RowsAffected, nil
}

// Top returns the highest scored entries of a period.
func (r *LeaderboardRepository) Top(ctx context.Context, period models.LeaderboardPeriod, limit int) ([]models.LeaderboardEntry, error) {
	var entries []models.LeaderboardEntry
	err := r.db.WithContext(ctx).
		Where("period = ?", period).
		Order("score DESC, user_id ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list leaderboard: %w", err)
	}
	return entries, nil
}

// GetByUser returns a user's entry for a period.
func (r *LeaderboardRepository) GetByUser(ctx context.Context, period models.LeaderboardPeriod, userID string) (*models.LeaderboardEntry, error) {
	id := models.LeaderboardEntryID(period, userID)
	var entry models.LeaderboardEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, notFound(err, "leaderboard entry", id)
	}
	return &entry, nil
}

// CountAbove returns how many entries of a period score strictly higher than score.
func (r *LeaderboardRepository) CountAbove(ctx context.Context, period models.LeaderboardPeriod, score int) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LeaderboardEntry{}).
		Where("period = ? AND score > ?", period, score).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count leaderboard entries: %w", err)
	}
	return count, nil
}

// GetByUsers returns the entries of the given users for a period keyed by user id.
func (r *LeaderboardRepository) GetByUsers(ctx context.Context, period models.LeaderboardPeriod, userIDs []string) (map[string]models.LeaderboardEntry, error) {
	result := make(map[string]models.LeaderboardEntry, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	var entries []models.LeaderboardEntry
	err := r.db.WithContext(ctx).
		Where("period = ? AND user_id IN ?", period, userIDs).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard entries: %w", err)
	}
	for _, e := range entries {
		result[e.UserID] = e
	}
	return result, nil
}
