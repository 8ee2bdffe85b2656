package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/habitroyale/habit-engine/internal/models"
	"github.com/habitroyale/habit-engine/internal/repository"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

const defaultRelayBatch = 100

// OutboxResult counts what one relay run did with the staged changes.
type OutboxResult struct {
	Pending   int
	Published int
	Failed    int
}

// Outbox makes the engine's own change events durable. Writers stage changes
// in the transaction that performs the write; after commit the staged rows
// are flushed to the publisher, and rows a flush could not publish are
// retried by RunOnce in staging order.
//
// Publishing is at least once. Consumers dedupe on the change id.
type Outbox struct {
	db        *repository.DB
	publisher Publisher
	batchSize int
	log       *logger.Logger
	now       func() time.Time
}

// NewOutbox creates a change outbox. A nil publisher leaves every staged
// change pending.
func NewOutbox(db *repository.DB, publisher Publisher, batchSize int, log *logger.Logger) *Outbox {
	if batchSize <= 0 {
		batchSize = defaultRelayBatch
	}
	return &Outbox{
		db:        db,
		publisher: publisher,
		batchSize: batchSize,
		log:       log.Component("change_outbox"),
		now:       time.Now,
	}
}

// Staged holds the rows written by Stage, to be flushed once the surrounding
// transaction committed.
type Staged []models.ChangeRecord

// Stage writes changes to the outbox within tx. Staging on a nil Outbox is a
// no-op.
func (o *Outbox) Stage(ctx context.Context, tx *repository.DB, changes ...Change) (Staged, error) {
	if o == nil || len(changes) == 0 {
		return nil, nil
	}

	records := make([]*models.ChangeRecord, len(changes))
	for i, c := range changes {
		payload, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("failed to encode change %s: %w", c.ID, err)
		}
		records[i] = &models.ChangeRecord{ChangeID: c.ID, Path: c.Path, Payload: string(payload)}
	}
	if err := repository.NewChangeRepository(tx).Append(ctx, records); err != nil {
		return nil, err
	}

	staged := make(Staged, len(records))
	for i, rec := range records {
		staged[i] = *rec
	}
	return staged, nil
}

// Flush publishes staged rows in order and stops at the first failure. What
// it could not publish stays pending for RunOnce.
func (o *Outbox) Flush(ctx context.Context, staged Staged) {
	if o == nil || o.publisher == nil || len(staged) == 0 {
		return
	}

	changes := repository.NewChangeRepository(o.db)
	for i := range staged {
		if err := o.publish(ctx, changes, &staged[i]); err != nil {
			o.log.Warn().
				Err(err).
				Str("change_id", staged[i].ChangeID).
				Str("path", staged[i].Path).
				Int("left_pending", len(staged)-i).
				Msg("Change publish failed, relay will retry")
			return
		}
	}
}

// RunOnce publishes one batch of pending rows, oldest first. It stops at the
// first publish failure so rows are retried in staging order.
func (o *Outbox) RunOnce(ctx context.Context) OutboxResult {
	var res OutboxResult
	if o.publisher == nil {
		return res
	}

	changes := repository.NewChangeRepository(o.db)
	pending, err := changes.ListPending(ctx, o.batchSize)
	if err != nil {
		o.log.Error().Err(err).Msg("Failed to list pending changes")
		return res
	}
	res.Pending = len(pending)

	for i := range pending {
		rec := &pending[i]
		err := o.publish(ctx, changes, rec)
		if err == nil {
			res.Published++
			continue
		}
		if errors.Is(err, errUndecodable) {
			res.Failed++
			continue
		}

		o.log.Warn().
			Err(err).
			Str("change_id", rec.ChangeID).
			Str("path", rec.Path).
			Int("attempts", rec.Attempts).
			Msg("Change relay stopped at failed publish")
		break
	}

	if res.Pending > 0 {
		o.log.Info().
			Int("pending", res.Pending).
			Int("published", res.Published).
			Int("failed", res.Failed).
			Msg("Change relay run completed")
	}
	return res
}

// Run calls RunOnce every interval until ctx is cancelled.
func (o *Outbox) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.log.Info().Dur("interval", interval).Msg("Change relay started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.RunOnce(ctx)
		}
	}
}

var errUndecodable = errors.New("undecodable change record")

// publish sends one row and records the outcome on it. A row that was
// published concurrently counts as published.
func (o *Outbox) publish(ctx context.Context, changes *repository.ChangeRepository, rec *models.ChangeRecord) error {
	var change Change
	if err := json.Unmarshal([]byte(rec.Payload), &change); err != nil {
		o.log.Error().Err(err).Uint64("seq", rec.Seq).Str("change_id", rec.ChangeID).Msg("Parking undecodable change")
		if markErr := changes.MarkFailed(ctx, rec.Seq, err.Error()); markErr != nil && !errors.Is(markErr, repository.ErrStaleWrite) {
			return markErr
		}
		return fmt.Errorf("%w %d: %v", errUndecodable, rec.Seq, err)
	}

	if err := o.publisher.Publish(ctx, change); err != nil {
		if markErr := changes.MarkAttemptFailed(ctx, rec, err.Error()); markErr != nil && !errors.Is(markErr, repository.ErrStaleWrite) {
			o.log.Error().Err(markErr).Uint64("seq", rec.Seq).Msg("Failed to record change publish attempt")
		}
		return err
	}

	err := changes.MarkPublished(ctx, rec.Seq, o.now().UTC())
	if err != nil && !errors.Is(err, repository.ErrStaleWrite) {
		return err
	}
	return nil
}
