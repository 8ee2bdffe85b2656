package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/habitroyale/habit-engine/internal/models"
)

// UserRepository handles user-related database operations.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err, "user", id)
	}
	return &user, nil
}

// GetForUpdate retrieves a user and locks the row until the surrounding
// transaction ends.
func (r *UserRepository) GetForUpdate(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&user).Error
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return &user, nil
}

// UpdateProgress writes experience and level together.
func (r *UserRepository) UpdateProgress(ctx context.Context, id string, experience, level int) error {
	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"experience": experience,
			"level":      level,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update user progress: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListPage returns up to limit users with id greater than afterID, ordered by id.
func (r *UserRepository) ListPage(ctx context.Context, afterID string, limit int) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// DeleteCascade removes the user and every document that belongs to them in
// one transaction.
func (r *UserRepository) DeleteCascade(ctx context.Context, id string) error {
	return r.db.Transaction(ctx, func(tx *DB) error {
		owned := []interface{}{
			&models.Pet{},
			&models.HabitLog{},
			&models.Streak{},
			&models.UserAchievement{},
			&models.LeaderboardEntry{},
			&models.NotificationIntent{},
		}
		for _, model := range owned {
			if err := tx.Where("user_id = ?", id).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to delete %T for user %s: %w", model, id, err)
			}
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.BattleStats{}).Error; err != nil {
			return fmt.Errorf("failed to delete battle stats for user %s: %w", id, err)
		}

		result := tx.Where("id = ?", id).Delete(&models.User{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete user %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil
	})
}
