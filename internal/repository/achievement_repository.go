package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/habitroyale/habit-engine/internal/models"
)

// AchievementRepository handles achievement catalog and award operations.
type AchievementRepository struct {
	db *DB
}

// NewAchievementRepository creates a new achievement repository.
func NewAchievementRepository(db *DB) *AchievementRepository {
	return &AchievementRepository{db: db}
}

// UpsertCatalog writes every catalog entry, updating the mutable columns of
// entries that already exist.
func (r *AchievementRepository) UpsertCatalog(ctx context.Context, catalog []models.Achievement) error {
	if len(catalog) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "description", "icon", "category", "xp_reward", "updated_at"}),
		}).
		Create(&catalog).Error
	if err != nil {
		return fmt.Errorf("failed to upsert achievement catalog: %w", err)
	}
	return nil
}

// GetByID retrieves a catalog entry by its ID.
func (r *AchievementRepository) GetByID(ctx context.Context, id string) (*models.Achievement, error) {
	var achievement models.Achievement
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&achievement).Error; err != nil {
		return nil, notFound(err, "achievement", id)
	}
	return &achievement, nil
}

// Award records that userID unlocked achievementID. It returns false without
// error when the user already holds the achievement.
func (r *AchievementRepository) Award(ctx context.Context, userID, achievementID string, at time.Time) (bool, error) {
	userAchievement := &models.UserAchievement{
		ID:            uuid.NewString(),
		UserID:        userID,
		AchievementID: achievementID,
		AwardedAt:     at,
		IsNew:         true,
	}

	result := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(userAchievement)
	if result.Error != nil {
		return false, fmt.Errorf("failed to award achievement %s to user %s: %w", achievementID, userID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// HasUserAchievement checks if a user holds a specific achievement.
func (r *AchievementRepository) HasUserAchievement(ctx context.Context, userID, achievementID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UserAchievement{}).
		Where("user_id = ? AND achievement_id = ?", userID, achievementID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check achievement: %w", err)
	}
	return count > 0, nil
}

// GetUserAchievements retrieves a user's unlocked achievements, newest first.
func (r *AchievementRepository) GetUserAchievements(ctx context.Context, userID string) ([]models.UserAchievement, error) {
	var userAchievements []models.UserAchievement
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Preload("Achievement").
		Order("awarded_at DESC").
		Find(&userAchievements).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements of user %s: %w", userID, err)
	}
	return userAchievements, nil
}

// HoldersCount returns the number of users who unlocked an achievement.
func (r *AchievementRepository) HoldersCount(ctx context.Context, achievementID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UserAchievement{}).
		Where("achievement_id = ?", achievementID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count holders of %s: %w", achievementID, err)
	}
	return count, nil
}

// MarkSeen clears the IsNew flag of every achievement a user holds.
func (r *AchievementRepository) MarkSeen(ctx context.Context, userID string) error {
	err := r.db.WithContext(ctx).
		Model(&models.UserAchievement{}).
		Where("user_id = ? AND is_new = ?", userID, true).
		Update("is_new", false).Error
	if err != nil {
		return fmt.Errorf("failed to mark achievements seen: %w", err)
	}
	return nil
}
