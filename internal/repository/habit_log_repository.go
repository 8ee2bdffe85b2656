package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/habitroyale/habit-engine/internal/models"
)

// HabitLogRepository handles habit log documents.
type HabitLogRepository struct {
	db *DB
}

// NewHabitLogRepository creates a new habit log repository.
func NewHabitLogRepository(db *DB) *HabitLogRepository {
	return &HabitLogRepository{db: db}
}

// Create stores a habit log.
func (r *HabitLogRepository) Create(ctx context.Context, log *models.HabitLog) error {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to create habit log: %w", err)
	}
	return nil
}

// CountSince counts a user's habit logs dated at or after since.
func (r *HabitLogRepository) CountSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.HabitLog{}).
		Where("user_id = ? AND date >= ?", userID, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count habit logs of %s: %w", userID, err)
	}
	return count, nil
}
