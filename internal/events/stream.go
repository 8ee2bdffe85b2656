package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/habitroyale/habit-engine/internal/config"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

const (
	payloadField = "change"
	// approximate stream length kept by XADD
	streamMaxLen = 100000
	// deliveries after which a failing entry is acknowledged and dropped
	maxDeliveries = 5
	idleDelay     = time.Second
	retryDelay    = 2 * time.Second
	// lower bound between two claim passes of a running consumer
	minClaimInterval = 10 * time.Second
)

// Handler processes one change. Returning nil acknowledges it.
type Handler func(ctx context.Context, change Change) error

// Batch summarizes one poll of the stream.
type Batch struct {
	Read    int
	Acked   int
	Failed  int
	Dropped int
}

// StreamBus carries change events over a Redis stream consumed by a
// consumer group. Delivery is at least once: entries are acknowledged only
// after the handler succeeds, and entries another consumer left unacknowledged
// for longer than the claim idle time are claimed and handled here.
type StreamBus struct {
	client    redis.UniversalClient
	stream    string
	group     string
	consumer  string
	count     int64
	block     time.Duration
	claimIdle time.Duration
	log       *logger.Logger

	mu       sync.Mutex
	failures map[string]int
}

// NewStreamBus creates a stream bus. A non-positive block timeout makes reads
// return immediately. A zero claim idle time claims every pending entry.
func NewStreamBus(client redis.UniversalClient, cfg config.EventsConfig, log *logger.Logger) *StreamBus {
	count := cfg.BatchSize
	if count <= 0 {
		count = 50
	}
	block := time.Duration(cfg.BlockSeconds) * time.Second
	if cfg.BlockSeconds <= 0 {
		block = -1
	}
	claimIdle := time.Duration(cfg.ClaimMinIdleSeconds) * time.Second
	if claimIdle < 0 {
		claimIdle = 0
	}
	return &StreamBus{
		client:    client,
		stream:    cfg.Stream,
		group:     cfg.Group,
		consumer:  cfg.Consumer,
		count:     count,
		block:     block,
		claimIdle: claimIdle,
		log:       log.Component("stream"),
		failures:  make(map[string]int),
	}
}

// EnsureGroup creates the stream and consumer group if they do not exist.
func (b *StreamBus) EnsureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.stream, b.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", b.group, b.stream, err)
	}
	return nil
}

// Publish appends a change to the stream.
func (b *StreamBus) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode change %s: %w", change.ID, err)
	}

	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{payloadField: string(payload)},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish change %s: %w", change.ID, err)
	}

	b.log.Debug().
		Str("change_id", change.ID).
		Str("path", change.Path).
		Str("entry_id", id).
		Msg("Published change")
	return nil
}

// Consume polls the stream until ctx is cancelled. Entries left pending by
// this or another consumer are claimed and handled first, and claiming is
// repeated periodically so entries of consumers that went away are not
// stranded.
func (b *StreamBus) Consume(ctx context.Context, handler Handler) error {
	if err := b.EnsureGroup(ctx); err != nil {
		return err
	}

	b.log.Info().
		Str("stream", b.stream).
		Str("group", b.group).
		Str("consumer", b.consumer).
		Msg("Consuming change stream")

	claimInterval := b.claimIdle
	if claimInterval < minClaimInterval {
		claimInterval = minClaimInterval
	}

	var nextClaim time.Time
	pending := true
	for {
		if ctx.Err() != nil {
			return nil
		}

		if pending || time.Now().After(nextClaim) {
			nextClaim = time.Now().Add(claimInterval)
			claimed, err := b.Claim(ctx, handler)
			if err != nil && ctx.Err() == nil {
				b.log.Error().Err(err).Msg("Failed to claim pending entries")
			}
			if claimed.Read > 0 {
				b.log.Info().
					Int("claimed", claimed.Read).
					Int("acked", claimed.Acked).
					Int("failed", claimed.Failed).
					Msg("Claimed idle pending entries")
			}
		}

		batch, err := b.Poll(ctx, handler, pending)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Error().Err(err).Msg("Failed to read change stream")
			if !sleep(ctx, retryDelay) {
				return nil
			}
			continue
		}

		switch {
		case batch.Failed > 0:
			pending = true
			if !sleep(ctx, retryDelay) {
				return nil
			}
		case pending && batch.Read == 0:
			pending = false
		case batch.Read == 0 && b.block < 0:
			if !sleep(ctx, idleDelay) {
				return nil
			}
		}
	}
}

// Poll reads one batch and runs handler on each entry. With pending set it
// re-reads entries delivered to this consumer but never acknowledged.
func (b *StreamBus) Poll(ctx context.Context, handler Handler, pending bool) (Batch, error) {
	start := ">"
	if pending {
		start = "0"
	}

	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.group,
		Consumer: b.consumer,
		Streams:  []string{b.stream, start},
		Count:    b.count,
		Block:    b.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return Batch{}, nil
	}
	if err != nil {
		return Batch{}, fmt.Errorf("failed to read group %s: %w", b.group, err)
	}

	var batch Batch
	for _, stream := range streams {
		b.handleAll(ctx, stream.Messages, handler, &batch)
	}
	return batch, nil
}

// Claim moves entries that sat unacknowledged for at least the claim idle
// time, in any consumer's pending list, to this consumer and runs handler on
// them. It walks the whole pending list of the group.
func (b *StreamBus) Claim(ctx context.Context, handler Handler) (Batch, error) {
	var batch Batch
	start := "0-0"
	for {
		msgs, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   b.stream,
			Group:    b.group,
			Consumer: b.consumer,
			MinIdle:  b.claimIdle,
			Start:    start,
			Count:    b.count,
		}).Result()
		if err != nil {
			return batch, fmt.Errorf("failed to claim pending entries of %s: %w", b.group, err)
		}

		b.handleAll(ctx, msgs, handler, &batch)
		if next == "" || next == "0-0" {
			return batch, nil
		}
		start = next
	}
}

func (b *StreamBus) handleAll(ctx context.Context, msgs []redis.XMessage, handler Handler, batch *Batch) {
	for _, msg := range msgs {
		batch.Read++
		switch b.handle(ctx, msg, handler) {
		case entryAcked:
			batch.Acked++
		case entryDropped:
			batch.Dropped++
		default:
			batch.Failed++
		}
	}
}

type entryResult int

const (
	entryAcked entryResult = iota
	entryFailed
	entryDropped
)

func (b *StreamBus) handle(ctx context.Context, msg redis.XMessage, handler Handler) entryResult {
	change, err := decodeEntry(msg)
	if err != nil {
		b.log.Error().Err(err).Str("entry_id", msg.ID).Msg("Dropping undecodable change")
		b.ack(ctx, msg.ID)
		return entryDropped
	}

	if err := handler(ctx, change); err != nil {
		attempts := b.recordFailure(msg.ID)
		if attempts >= maxDeliveries {
			b.log.Error().
				Err(err).
				Str("entry_id", msg.ID).
				Str("change_id", change.ID).
				Str("path", change.Path).
				Int("attempts", attempts).
				Msg("Dropping change after repeated failures")
			b.ack(ctx, msg.ID)
			return entryDropped
		}
		b.log.Warn().
			Err(err).
			Str("entry_id", msg.ID).
			Str("change_id", change.ID).
			Int("attempts", attempts).
			Msg("Change handler failed, leaving entry pending")
		return entryFailed
	}

	if !b.ack(ctx, msg.ID) {
		return entryFailed
	}
	return entryAcked
}

func (b *StreamBus) ack(ctx context.Context, id string) bool {
	b.mu.Lock()
	delete(b.failures, id)
	b.mu.Unlock()

	if err := b.client.XAck(ctx, b.stream, b.group, id).Err(); err != nil {
		b.log.Error().Err(err).Str("entry_id", id).Msg("Failed to acknowledge entry")
		return false
	}
	return true
}

func (b *StreamBus) recordFailure(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[id]++
	return b.failures[id]
}

func decodeEntry(msg redis.XMessage) (Change, error) {
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		return Change{}, fmt.Errorf("entry %s has no %s field", msg.ID, payloadField)
	}
	var change Change
	if err := json.Unmarshal([]byte(raw), &change); err != nil {
		return Change{}, fmt.Errorf("entry %s: %w", msg.ID, err)
	}
	if err := change.Validate(); err != nil {
		return Change{}, fmt.Errorf("entry %s: %w", msg.ID, err)
	}
	return change, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
