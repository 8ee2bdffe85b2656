package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/habitroyale/habit-engine/internal/models"
)

// EventRepository remembers which change events were fully handled.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// IsProcessed reports whether eventID was already handled.
func (r *EventRepository) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check event %s: %w", eventID, err)
	}
	return count > 0, nil
}

// MarkProcessed records eventID as handled. Marking twice is a no-op.
func (r *EventRepository) MarkProcessed(ctx context.Context, eventID, path string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.ProcessedEvent{EventID: eventID, Path: path, ProcessedAt: at}).Error
	if err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", eventID, err)
	}
	return nil
}
