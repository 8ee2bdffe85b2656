package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/habitroyale/habit-engine/internal/models"
)

// OutboxRepository stores notification intents until the relay delivers them.
type OutboxRepository struct {
	db *DB
}

// NewOutboxRepository creates a new outbox repository.
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue appends a pending intent. Call it with the transaction that
// performs the state change being announced.
func (r *OutboxRepository) Enqueue(ctx context.Context, intent *models.NotificationIntent) error {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	intent.Status = models.NotificationPending
	if err := r.db.WithContext(ctx).Create(intent).Error; err != nil {
		return fmt.Errorf("failed to enqueue %s notification for %s: %w", intent.Kind, intent.UserID, err)
	}
	return nil
}

// ListPending returns up to limit pending intents, oldest first.
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]models.NotificationIntent, error) {
	var intents []models.NotificationIntent
	err := r.db.WithContext(ctx).
		Where("status = ?", models.NotificationPending).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&intents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	return intents, nil
}

// ListByUser returns every intent of a user, oldest first.
func (r *OutboxRepository) ListByUser(ctx context.Context, userID string) ([]models.NotificationIntent, error) {
	var intents []models.NotificationIntent
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&intents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications of %s: %w", userID, err)
	}
	return intents, nil
}

// MarkSent records a successful delivery.
func (r *OutboxRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.setStatus(ctx, id, map[string]interface{}{
		"status":  models.NotificationSent,
		"sent_at": at,
	})
}

// MarkSkipped records an intent that cannot be delivered, e.g. no device token.
func (r *OutboxRepository) MarkSkipped(ctx context.Context, id, reason string) error {
	return r.setStatus(ctx, id, map[string]interface{}{
		"status":     models.NotificationSkipped,
		"last_error": reason,
	})
}

// MarkAttemptFailed bumps the attempt counter and gives up once maxAttempts
// is reached. It returns the resulting status.
func (r *OutboxRepository) MarkAttemptFailed(ctx context.Context, intent *models.NotificationIntent, reason string, maxAttempts int) (models.NotificationStatus, error) {
	attempts := intent.Attempts + 1
	status := models.NotificationPending
	if attempts >= maxAttempts {
		status = models.NotificationFailed
	}
	err := r.setStatus(ctx, intent.ID, map[string]interface{}{
		"status":     status,
		"attempts":   attempts,
		"last_error": reason,
	})
	if err != nil {
		return intent.Status, err
	}
	intent.Attempts = attempts
	intent.Status = status
	return status, nil
}

func (r *OutboxRepository) setStatus(ctx context.Context, id string, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&models.NotificationIntent{}).
		Where("id = ? AND status = ?", id, models.NotificationPending).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update notification %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("notification %s not pending: %w", id, ErrStaleWrite)
	}
	return nil
}
