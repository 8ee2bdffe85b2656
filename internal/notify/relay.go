package notify

import (
	"context"
	"errors"
	"time"

	"github.com/habitroyale/habit-engine/internal/config"
	prommetrics "github.com/habitroyale/habit-engine/internal/metrics"
	"github.com/habitroyale/habit-engine/internal/models"
	"github.com/habitroyale/habit-engine/internal/repository"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

// RelayResult counts what one relay run did with the pending intents.
type RelayResult struct {
	Pending int
	Sent    int
	Skipped int
	Retried int
	Failed  int
}

// Relay moves pending notification intents from the outbox to a Sender.
// Delivery is best effort: failures are recorded on the intent and logged.
type Relay struct {
	db          *repository.DB
	sender      Sender
	batchSize   int
	maxAttempts int
	log         *logger.Logger
	now         func() time.Time
}

// NewRelay creates a new outbox relay.
func NewRelay(db *repository.DB, sender Sender, cfg *config.PushConfig, log *logger.Logger) *Relay {
	batchSize := cfg.RelayBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Relay{
		db:          db,
		sender:      sender,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		log:         log.Component("relay"),
		now:         time.Now,
	}
}

// RunOnce delivers one batch of pending intents. It never returns an error;
// intents that could not be handled stay pending for the next run.
func (r *Relay) RunOnce(ctx context.Context) RelayResult {
	var res RelayResult

	outbox := repository.NewOutboxRepository(r.db)
	intents, err := outbox.ListPending(ctx, r.batchSize)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to list pending notifications")
		return res
	}
	res.Pending = len(intents)
	prommetrics.SetNotificationsPending(len(intents))

	users := repository.NewUserRepository(r.db)
	for i := range intents {
		intent := &intents[i]
		status, err := r.deliver(ctx, outbox, users, intent)
		if err != nil {
			r.log.Error().
				Err(err).
				Str("intent_id", intent.ID).
				Str("user_id", intent.UserID).
				Str("kind", string(intent.Kind)).
				Msg("Failed to update notification intent")
			continue
		}

		switch status {
		case models.NotificationSent:
			res.Sent++
		case models.NotificationSkipped:
			res.Skipped++
		case models.NotificationFailed:
			res.Failed++
		default:
			res.Retried++
			continue
		}
		prommetrics.RecordNotification(string(intent.Kind), string(status))
	}

	if res.Pending > 0 {
		r.log.Info().
			Int("pending", res.Pending).
			Int("sent", res.Sent).
			Int("skipped", res.Skipped).
			Int("retried", res.Retried).
			Int("failed", res.Failed).
			Msg("Notification relay run completed")
	}
	return res
}

// deliver sends one intent and returns the status it was moved to.
func (r *Relay) deliver(ctx context.Context, outbox *repository.OutboxRepository, users *repository.UserRepository, intent *models.NotificationIntent) (models.NotificationStatus, error) {
	user, err := users.GetByID(ctx, intent.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.NotificationSkipped, outbox.MarkSkipped(ctx, intent.ID, "user not found")
	}
	if err != nil {
		return models.NotificationPending, err
	}
	if user.PushToken == "" {
		return models.NotificationSkipped, outbox.MarkSkipped(ctx, intent.ID, "no push token")
	}

	err = r.sender.Send(ctx, &Message{
		Token:        user.PushToken,
		Notification: Notification{Title: intent.Title, Body: intent.Body},
		Data:         intent.Data,
	})
	switch {
	case err == nil:
		return models.NotificationSent, outbox.MarkSent(ctx, intent.ID, r.now().UTC())
	case errors.Is(err, ErrDisabled):
		return models.NotificationSkipped, outbox.MarkSkipped(ctx, intent.ID, err.Error())
	}

	r.log.Warn().
		Err(err).
		Str("intent_id", intent.ID).
		Str("user_id", intent.UserID).
		Int("attempt", intent.Attempts+1).
		Msg("Push delivery failed")
	return outbox.MarkAttemptFailed(ctx, intent, err.Error(), r.maxAttempts)
}
