package leaderboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/habitroyale/habit-engine/internal/models"
)

// Ranked is one member of a cached ranking.
type Ranked struct {
	UserID string
	Score  int
}

// RedisRanking mirrors leaderboard scores into Redis sorted sets, one per
// period, so ranks can be read without scanning the entries table.
type RedisRanking struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRanking creates a ranking cache using keys "<prefix>:<period>".
func NewRedisRanking(client redis.UniversalClient, prefix string) *RedisRanking {
	if prefix == "" {
		prefix = "leaderboard"
	}
	return &RedisRanking{client: client, prefix: prefix}
}

func (c *RedisRanking) key(period models.LeaderboardPeriod) string {
	return c.prefix + ":" + string(period)
}

// Set stores a user's score.
func (c *RedisRanking) Set(ctx context.Context, period models.LeaderboardPeriod, userID string, score int) error {
	err := c.client.ZAdd(ctx, c.key(period), redis.Z{Score: float64(score), Member: userID}).Err()
	if err != nil {
		return fmt.Errorf("failed to cache score of %s: %w", userID, err)
	}
	return nil
}

// Remove drops a user from the ranking.
func (c *RedisRanking) Remove(ctx context.Context, period models.LeaderboardPeriod, userID string) error {
	if err := c.client.ZRem(ctx, c.key(period), userID).Err(); err != nil {
		return fmt.Errorf("failed to remove %s from ranking: %w", userID, err)
	}
	return nil
}

// Top returns the highest scores first.
func (c *RedisRanking) Top(ctx context.Context, period models.LeaderboardPeriod, limit int) ([]Ranked, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	members, err := c.client.ZRevRangeWithScores(ctx, c.key(period), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ranking: %w", err)
	}

	ranked := make([]Ranked, 0, len(members))
	for _, m := range members {
		userID, ok := m.Member.(string)
		if !ok {
			continue
		}
		ranked = append(ranked, Ranked{UserID: userID, Score: int(m.Score)})
	}
	return ranked, nil
}

// Rank returns the 1-based rank of a user, or 0 when the user is not ranked.
func (c *RedisRanking) Rank(ctx context.Context, period models.LeaderboardPeriod, userID string) (int, error) {
	rank, err := c.client.ZRevRank(ctx, c.key(period), userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read rank of %s: %w", userID, err)
	}
	return int(rank) + 1, nil
}

// Len returns the number of ranked users.
func (c *RedisRanking) Len(ctx context.Context, period models.LeaderboardPeriod) (int, error) {
	n, err := c.client.ZCard(ctx, c.key(period)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count ranking: %w", err)
	}
	return int(n), nil
}
