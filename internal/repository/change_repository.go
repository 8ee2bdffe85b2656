package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/habitroyale/habit-engine/internal/models"
)

// ChangeRepository stores engine-written change events until they reach the
// change stream.
type ChangeRepository struct {
	db *DB
}

// NewChangeRepository creates a new change repository.
func NewChangeRepository(db *DB) *ChangeRepository {
	return &ChangeRepository{db: db}
}

// Append stages records as pending and fills in their sequence numbers. Call
// it with the transaction that performs the write being announced.
func (r *ChangeRepository) Append(ctx context.Context, records []*models.ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		rec.Status = models.ChangePending
	}
	if err := r.db.WithContext(ctx).Create(records).Error; err != nil {
		return fmt.Errorf("failed to stage %d change events: %w", len(records), err)
	}
	return nil
}

// ListPending returns up to limit pending records in staging order.
func (r *ChangeRepository) ListPending(ctx context.Context, limit int) ([]models.ChangeRecord, error) {
	var records []models.ChangeRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", models.ChangePending).
		Order("seq ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending change events: %w", err)
	}
	return records, nil
}

// CountPending returns the number of records not yet published.
func (r *ChangeRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ChangeRecord{}).
		Where("status = ?", models.ChangePending).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending change events: %w", err)
	}
	return count, nil
}

// MarkPublished records a successful publish. It returns ErrStaleWrite when
// the record was no longer pending, e.g. another relay published it first.
func (r *ChangeRepository) MarkPublished(ctx context.Context, seq uint64, at time.Time) error {
	return r.updatePending(ctx, seq, map[string]interface{}{
		"status":       models.ChangePublished,
		"published_at": at,
	})
}

// MarkAttemptFailed bumps the attempt counter and keeps the record pending.
func (r *ChangeRepository) MarkAttemptFailed(ctx context.Context, rec *models.ChangeRecord, reason string) error {
	attempts := rec.Attempts + 1
	err := r.updatePending(ctx, rec.Seq, map[string]interface{}{
		"attempts":   attempts,
		"last_error": reason,
	})
	if err != nil {
		return err
	}
	rec.Attempts = attempts
	rec.LastError = reason
	return nil
}

// MarkFailed parks a record that can never be published.
func (r *ChangeRepository) MarkFailed(ctx context.Context, seq uint64, reason string) error {
	return r.updatePending(ctx, seq, map[string]interface{}{
		"status":     models.ChangeFailed,
		"last_error": reason,
	})
}

func (r *ChangeRepository) updatePending(ctx context.Context, seq uint64, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&models.ChangeRecord{}).
		Where("seq = ? AND status = ?", seq, models.ChangePending).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update change event %d: %w", seq, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("change event %d not pending: %w", seq, ErrStaleWrite)
	}
	return nil
}
