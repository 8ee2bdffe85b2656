// Package battles scores rated battles and settles their rewards.
package battles

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/habitroyale/habit-engine/internal/config"
	"github.com/habitroyale/habit-engine/internal/engine"
	"github.com/habitroyale/habit-engine/internal/events"
	"github.com/habitroyale/habit-engine/internal/metrics"
	"github.com/habitroyale/habit-engine/internal/models"
	"github.com/habitroyale/habit-engine/internal/repository"
	"github.com/habitroyale/habit-engine/internal/service/achievements"
	"github.com/habitroyale/habit-engine/internal/service/progression"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

// winStreakAchievement is the win streak that unlocks BattleStreak5.
const winStreakAchievement = 5

// AchievementAwarder unlocks achievements.
type AchievementAwarder interface {
	Award(ctx context.Context, userID, achievementID string) (bool, error)
}

// Service handles battle scoring and settlement.
type Service struct {
	db           *repository.DB
	rules        config.RulesConfig
	progression  *progression.Service
	achievements AchievementAwarder
	changes      *events.Outbox
	log          *logger.Logger
	now          func() time.Time
}

// NewService creates a new battle service. achievements and changes may be nil.
func NewService(
	db *repository.DB,
	rules config.RulesConfig,
	progression *progression.Service,
	achievements AchievementAwarder,
	changes *events.Outbox,
	log *logger.Logger,
) *Service {
	return &Service{
		db:           db,
		rules:        rules,
		progression:  progression,
		achievements: achievements,
		changes:      changes,
		log:          log.Component("battles"),
		now:          time.Now,
	}
}

// Score computes the result of an active battle whose ratings are complete
// and marks it completed, staging the battle change in the same transaction.
// Battles with invalid ratings are logged and left untouched. When an earlier
// delivery already completed the battle, Score settles the stored battle
// instead, so a lost completion change cannot leave it unpaid. It returns
// false when nothing was written.
func (s *Service) Score(ctx context.Context, battle *models.Battle) (bool, error) {
	if battle.Status != models.BattleActive {
		return false, nil
	}

	score, err := engine.ScoreBattle(battle.Questions, battle.ChallengerRatings, battle.DefenderRatings)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("battle_id", battle.ID).
			Int("questions", len(battle.Questions)).
			Int("challenger_ratings", len(battle.ChallengerRatings)).
			Int("defender_ratings", len(battle.DefenderRatings)).
			Msg("Battle ratings invalid, not scoring")
		return false, nil
	}

	winnerID := score.Winner(battle.ChallengerID, battle.DefenderID)
	completedAt := s.now().UTC()

	after := *battle
	after.Status = models.BattleCompleted
	after.ChallengerScore = &score.Challenger
	after.DefenderScore = &score.Defender
	after.CompletedAt = &completedAt
	after.WinnerID = nil
	if winnerID != "" {
		after.WinnerID = &winnerID
	}
	change, err := events.NewChange(events.BattleDoc(battle.ID), battle, &after)
	if err != nil {
		return false, err
	}

	var (
		updated bool
		staged  events.Staged
	)
	err = s.db.Transaction(ctx, func(tx *repository.DB) error {
		var err error
		updated, err = repository.NewBattleRepository(tx).CompleteScored(ctx, battle.ID, score, winnerID, completedAt)
		if err != nil || !updated {
			return err
		}
		staged, err = s.changes.Stage(ctx, tx, change)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to score battle %s: %w", battle.ID, err)
	}
	if !updated {
		return s.settleStored(ctx, battle.ID)
	}

	s.log.Info().
		Str("battle_id", battle.ID).
		Int("challenger_score", score.Challenger).
		Int("defender_score", score.Defender).
		Str("winner_id", winnerID).
		Msg("Battle scored")

	s.changes.Flush(ctx, staged)
	return true, nil
}

// settleStored settles a battle that is no longer active in storage. Only
// completed battles are settled; the settlement marker makes repeats no-ops.
func (s *Service) settleStored(ctx context.Context, battleID string) (bool, error) {
	stored, err := repository.NewBattleRepository(s.db).GetByID(ctx, battleID)
	if errors.Is(err, repository.ErrNotFound) {
		s.log.Warn().Str("battle_id", battleID).Msg("Battle no longer exists, score skipped")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if stored.Status != models.BattleCompleted {
		s.log.Debug().Str("battle_id", battleID).Str("status", string(stored.Status)).Msg("Battle no longer active, score skipped")
		return false, nil
	}

	s.log.Debug().Str("battle_id", battleID).Msg("Battle already scored, settling stored result")
	return s.Settle(ctx, stored)
}

// participant is one side of a settlement.
type participant struct {
	userID string
	result models.BattleResult
	xp     int
	stats  *models.BattleStats
	award  *progression.Result
}

// Settle pays out a completed battle exactly once. One transaction records
// the settlement marker, awards XP, updates both users' battle stats, queues
// result notifications and stages the progression changes. It returns false
// when the battle was already settled.
func (s *Service) Settle(ctx context.Context, battle *models.Battle) (bool, error) {
	if battle.Status != models.BattleCompleted {
		return false, fmt.Errorf("battle %s is %s, not completed", battle.ID, battle.Status)
	}

	outcome := models.OutcomeDecided
	sides := s.participants(battle)
	if battle.IsDraw() {
		outcome = models.OutcomeDraw
	}

	var (
		settled bool
		staged  events.Staged
	)
	err := s.db.Transaction(ctx, func(tx *repository.DB) error {
		now := s.now().UTC()

		inserted, err := repository.NewBattleRepository(tx).RecordSettlement(ctx, battle.ID, outcome, now)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		settled = true

		statsRepo := repository.NewBattleStatsRepository(tx)
		outbox := repository.NewOutboxRepository(tx)
		for _, p := range sides {
			p.award, err = s.progression.AwardXP(ctx, tx, p.userID, p.xp, "battle")
			if err != nil {
				return fmt.Errorf("failed to award battle xp to %s: %w", p.userID, err)
			}
			changes, err := p.award.Changes()
			if err != nil {
				return err
			}
			rows, err := s.changes.Stage(ctx, tx, changes...)
			if err != nil {
				return err
			}
			staged = append(staged, rows...)
			p.stats, err = statsRepo.ApplyResult(ctx, p.userID, p.result, now)
			if err != nil {
				return err
			}
			if err := outbox.Enqueue(ctx, resultIntent(battle.ID, p)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to settle battle %s: %w", battle.ID, err)
	}

	if !settled {
		s.log.Debug().Str("battle_id", battle.ID).Msg("Battle already settled")
		return false, nil
	}

	metrics.RecordBattleSettled(string(outcome))
	s.log.Info().
		Str("battle_id", battle.ID).
		Str("outcome", string(outcome)).
		Msg("Battle settled")

	s.changes.Flush(ctx, staged)
	for _, p := range sides {
		s.awardBattleAchievements(ctx, p)
	}
	return true, nil
}

func (s *Service) participants(battle *models.Battle) []*participant {
	if battle.IsDraw() {
		return []*participant{
			{userID: battle.ChallengerID, result: models.ResultDraw, xp: s.rules.DrawXP},
			{userID: battle.DefenderID, result: models.ResultDraw, xp: s.rules.DrawXP},
		}
	}
	winnerID := *battle.WinnerID
	return []*participant{
		{userID: winnerID, result: models.ResultWin, xp: s.rules.WinnerXP},
		{userID: battle.Opponent(winnerID), result: models.ResultLoss, xp: s.rules.LoserXP},
	}
}

// awardBattleAchievements unlocks win milestones. Failures are logged only.
func (s *Service) awardBattleAchievements(ctx context.Context, p *participant) {
	if s.achievements == nil || p.result != models.ResultWin || p.stats == nil {
		return
	}

	var ids []string
	if p.stats.Wins == 1 {
		ids = append(ids, achievements.BattleFirstWin)
	}
	if p.stats.CurrentStreak == winStreakAchievement {
		ids = append(ids, achievements.BattleStreak5)
	}

	for _, id := range ids {
		if _, err := s.achievements.Award(ctx, p.userID, id); err != nil && !errors.Is(err, achievements.ErrUnknownAchievement) {
			s.log.Error().Err(err).Str("user_id", p.userID).Str("achievement", id).Msg("Failed to award battle achievement")
		}
	}
}

func resultIntent(battleID string, p *participant) *models.NotificationIntent {
	title := "Battle lost 😔"
	switch p.result {
	case models.ResultWin:
		title = "Battle won! 🏆"
	case models.ResultDraw:
		title = "Battle ended in a draw 🤝"
	}

	return &models.NotificationIntent{
		UserID: p.userID,
		Kind:   models.NotifyBattleResult,
		Title:  title,
		Body:   fmt.Sprintf("You earned %d XP!", p.xp),
		Data: map[string]string{
			"type":     string(models.NotifyBattleResult),
			"won":      strconv.FormatBool(p.result == models.ResultWin),
			"result":   string(p.result),
			"battleId": battleID,
		},
	}
}
