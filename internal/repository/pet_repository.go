package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/habitroyale/habit-engine/internal/engine"
	"github.com/habitroyale/habit-engine/internal/models"
)

// PetRepository handles pet-related database operations.
type PetRepository struct {
	db *DB
}

// NewPetRepository creates a new pet repository.
func NewPetRepository(db *DB) *PetRepository {
	return &PetRepository{db: db}
}

// Create creates a new pet.
func (r *PetRepository) Create(ctx context.Context, pet *models.Pet) error {
	if err := r.db.WithContext(ctx).Create(pet).Error; err != nil {
		return fmt.Errorf("failed to create pet: %w", err)
	}
	return nil
}

// Get retrieves a pet owned by userID.
func (r *PetRepository) Get(ctx context.Context, userID, petID string) (*models.Pet, error) {
	var pet models.Pet
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", petID, userID).
		First(&pet).Error
	if err != nil {
		return nil, notFound(err, "pet", petID)
	}
	return &pet, nil
}

// GetForUpdate retrieves a pet and locks the row for the surrounding transaction.
func (r *PetRepository) GetForUpdate(ctx context.Context, userID, petID string) (*models.Pet, error) {
	var pet models.Pet
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND user_id = ?", petID, userID).
		First(&pet).Error
	if err != nil {
		return nil, notFound(err, "pet", petID)
	}
	return &pet, nil
}

// UpdateProgress writes experience and level together.
func (r *PetRepository) UpdateProgress(ctx context.Context, petID string, experience, level int) error {
	result := r.db.WithContext(ctx).
		Model(&models.Pet{}).
		Where("id = ?", petID).
		Updates(map[string]interface{}{
			"experience": experience,
			"level":      level,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update pet progress: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("pet %s: %w", petID, ErrNotFound)
	}
	return nil
}

// ApplyEvolution writes an evolution bump only if the stored tier is still
// below the target tier. It returns false when the bump was already applied.
func (r *PetRepository) ApplyEvolution(ctx context.Context, petID string, bump engine.EvolutionBump) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Pet{}).
		Where("id = ? AND evolution_tier < ?", petID, bump.Tier).
		Updates(map[string]interface{}{
			"evolution_tier": bump.Tier,
			"max_health":     bump.MaxHealth,
			"health":         bump.Health,
			"attack":         bump.Attack,
			"defense":        bump.Defense,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to apply evolution to pet %s: %w", petID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ApplyDecay sets the decayed health if the stored health still equals
// expectedHealth, so a concurrent feed is never overwritten.
func (r *PetRepository) ApplyDecay(ctx context.Context, petID string, expectedHealth, newHealth int, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Pet{}).
		Where("id = ? AND health = ?", petID, expectedHealth).
		Updates(map[string]interface{}{
			"health":            newHealth,
			"last_health_decay": at,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to apply decay to pet %s: %w", petID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListPage returns up to limit pets with id greater than afterID, ordered by id.
func (r *PetRepository) ListPage(ctx context.Context, afterID string, limit int) ([]models.Pet, error) {
	var pets []models.Pet
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&pets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pets: %w", err)
	}
	return pets, nil
}

// ListByUser returns all pets of a user.
func (r *PetRepository) ListByUser(ctx context.Context, userID string) ([]models.Pet, error) {
	var pets []models.Pet
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("slot_index ASC").
		Find(&pets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pets of user %s: %w", userID, err)
	}
	return pets, nil
}
