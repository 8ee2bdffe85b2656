// Package dashboard provides REST API handlers for the game read model.
// It exposes endpoints for leaderboards, ranks, achievements and battle stats,
// plus account deletion.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/habitroyale/habit-engine/internal/api/ingest"
	"github.com/habitroyale/habit-engine/internal/events"
	"github.com/habitroyale/habit-engine/internal/models"
	"github.com/habitroyale/habit-engine/internal/repository"
	"github.com/habitroyale/habit-engine/internal/service/achievements"
	"github.com/habitroyale/habit-engine/internal/service/leaderboard"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

// LeaderboardService interface for leaderboard operations.
type LeaderboardService interface {
	Top(ctx context.Context, period models.LeaderboardPeriod, limit int) ([]leaderboard.Entry, error)
	GetUserRank(ctx context.Context, period models.LeaderboardPeriod, userID string) (int, error)
	Remove(ctx context.Context, userID string) error
}

// AchievementService interface for achievement operations.
type AchievementService interface {
	Catalog() []models.Achievement
	UserAchievements(ctx context.Context, userID string) ([]models.UserAchievement, error)
	HolderCounts(ctx context.Context) (map[string]int64, error)
	MarkSeen(ctx context.Context, userID string) error
}

// BattleStatsRepository interface for battle counters.
type BattleStatsRepository interface {
	Get(ctx context.Context, userID string) (*models.BattleStats, error)
}

// UserRepository interface for user lookup and deletion.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	DeleteCascade(ctx context.Context, id string) error
}

// HealthChecker reports storage health.
type HealthChecker interface {
	Health() error
}

// Handler handles dashboard API requests.
type Handler struct {
	leaderboardService LeaderboardService
	achievementService AchievementService
	statsRepo          BattleStatsRepository
	userRepo           UserRepository
	health             HealthChecker
	publisher          events.Publisher
	token              string
	log                *logger.Logger
}

// NewHandler creates a new dashboard handler.
func NewHandler(
	db *repository.DB,
	leaderboardService *leaderboard.Service,
	achievementService *achievements.Service,
	publisher events.Publisher,
	token string,
	log *logger.Logger,
) *Handler {
	return NewHandlerWithInterfaces(
		leaderboardService,
		achievementService,
		repository.NewBattleStatsRepository(db),
		repository.NewUserRepository(db),
		db,
		publisher,
		token,
		log,
	)
}

// NewHandlerWithInterfaces creates a new dashboard handler with interface dependencies (useful for testing).
func NewHandlerWithInterfaces(
	leaderboardService LeaderboardService,
	achievementService AchievementService,
	statsRepo BattleStatsRepository,
	userRepo UserRepository,
	health HealthChecker,
	publisher events.Publisher,
	token string,
	log *logger.Logger,
) *Handler {
	return &Handler{
		leaderboardService: leaderboardService,
		achievementService: achievementService,
		statsRepo:          statsRepo,
		userRepo:           userRepo,
		health:             health,
		publisher:          publisher,
		token:              token,
		log:                log.Component("dashboard"),
	}
}

// RegisterRoutes mounts the dashboard endpoints on an /api/v1 group.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/health", h.Health)
	api.GET("/leaderboard", h.GetLeaderboard)
	api.GET("/achievements", h.GetAchievementCatalog)
	api.GET("/users/:id/rank", h.GetUserRank)
	api.GET("/users/:id/achievements", h.GetUserAchievements)
	api.GET("/users/:id/battle-stats", h.GetBattleStats)
	api.POST("/users/:id/achievements/seen", h.RequireToken(), h.MarkAchievementsSeen)
	api.DELETE("/users/:id", h.RequireToken(), h.DeleteUser)
}

// Health reports whether the database answers.
// GET /api/v1/health.
func (h *Handler) Health(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Health(); err != nil {
			h.log.Error().Err(err).Msg("Health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"timestamp": time.Now().UTC(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// GetLeaderboard returns the ranked entries of a period.
// GET /api/v1/leaderboard?period=weekly&limit=10.
func (h *Handler) GetLeaderboard(c *gin.Context) {
	period, err := h.parsePeriod(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := h.parseLimit(c, 10)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.leaderboardService.Top(c.Request.Context(), period, limit)
	if err != nil {
		h.log.Error().Err(err).Str("period", string(period)).Msg("Failed to get leaderboard")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to retrieve leaderboard")
		return
	}

	h.log.Debug().
		Str("period", string(period)).
		Int("limit", limit).
		Int("entries", len(entries)).
		Msg("Retrieved leaderboard")

	c.JSON(http.StatusOK, gin.H{
		"leaderboard":   entries,
		"period":        period,
		"total_entries": len(entries),
		"generated_at":  time.Now().UTC(),
	})
}

// GetUserRank returns the rank of a user in a period.
// GET /api/v1/users/:id/rank?period=weekly.
func (h *Handler) GetUserRank(c *gin.Context) {
	userID := c.Param("id")
	period, err := h.parsePeriod(c)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	rank, err := h.leaderboardService.GetUserRank(c.Request.Context(), period, userID)
	if errors.Is(err, repository.ErrNotFound) {
		h.errorResponse(c, http.StatusNotFound, "User is not ranked")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get user rank")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to retrieve user rank")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      userID,
		"period":       period,
		"rank":         rank,
		"generated_at": time.Now().UTC(),
	})
}

// GetUserAchievements returns achievements unlocked by a user.
// GET /api/v1/users/:id/achievements.
func (h *Handler) GetUserAchievements(c *gin.Context) {
	userID := c.Param("id")

	unlocked, err := h.achievementService.UserAchievements(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get user achievements")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to retrieve user achievements")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":            userID,
		"achievements":       unlocked,
		"total_achievements": len(unlocked),
		"generated_at":       time.Now().UTC(),
	})
}

// MarkAchievementsSeen clears the new flag of a user's achievements.
// POST /api/v1/users/:id/achievements/seen.
func (h *Handler) MarkAchievementsSeen(c *gin.Context) {
	userID := c.Param("id")

	if err := h.achievementService.MarkSeen(c.Request.Context(), userID); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to mark achievements seen")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to update achievements")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetAchievementCatalog returns every achievement that can be unlocked with
// the number of users holding it.
// GET /api/v1/achievements.
func (h *Handler) GetAchievementCatalog(c *gin.Context) {
	catalog := h.achievementService.Catalog()

	holders, err := h.achievementService.HolderCounts(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to count achievement holders")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to retrieve achievement catalog")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"achievements":       catalog,
		"holders":            holders,
		"total_achievements": len(catalog),
		"generated_at":       time.Now().UTC(),
	})
}

// GetBattleStats returns the battle counters of a user.
// GET /api/v1/users/:id/battle-stats.
func (h *Handler) GetBattleStats(c *gin.Context) {
	userID := c.Param("id")

	stats, err := h.statsRepo.Get(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get battle stats")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to retrieve battle stats")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":        stats,
		"generated_at": time.Now().UTC(),
	})
}

// DeleteUser removes a user with everything they own and announces the
// deletion so dependent read models are cleaned up.
// DELETE /api/v1/users/:id.
func (h *Handler) DeleteUser(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("id")

	user, err := h.userRepo.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		h.errorResponse(c, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to load user")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	if err := h.userRepo.DeleteCascade(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.errorResponse(c, http.StatusNotFound, "User not found")
			return
		}
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to delete user")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	if !h.announceDeletion(ctx, user) {
		if err := h.leaderboardService.Remove(ctx, userID); err != nil {
			h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to remove leaderboard entries")
		}
	}

	h.log.Info().Str("user_id", userID).Msg("User deleted")
	c.Status(http.StatusNoContent)
}

// announceDeletion publishes the delete change of user. It reports false when
// nothing was published and dependent cleanup has to run inline.
func (h *Handler) announceDeletion(ctx context.Context, user *models.User) bool {
	if h.publisher == nil {
		return false
	}
	change, err := events.NewChange(events.UserDoc(user.ID), user, nil)
	if err == nil {
		err = h.publisher.Publish(ctx, change)
	}
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to publish user deletion, removing leaderboard entries directly")
		return false
	}
	return true
}

// RequireToken rejects requests without the configured ingest token.
func (h *Handler) RequireToken() gin.HandlerFunc {
	return ingest.TokenAuth(h.token)
}

// Helper functions

// parseLimit extracts and validates the limit query parameter.
func (h *Handler) parseLimit(c *gin.Context, defaultLimit int) (int, error) {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return defaultLimit, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %s", limitStr)
	}

	if limit < 1 {
		return 0, fmt.Errorf("limit must be greater than 0")
	}

	if limit > 1000 {
		return 0, fmt.Errorf("limit cannot exceed 1000")
	}

	return limit, nil
}

// parsePeriod reads and validates the period query parameter.
func (h *Handler) parsePeriod(c *gin.Context) (models.LeaderboardPeriod, error) {
	period := models.LeaderboardPeriod(c.DefaultQuery("period", string(models.PeriodWeekly)))
	switch period {
	case models.PeriodWeekly, models.PeriodMonthly, models.PeriodAllTime:
		return period, nil
	default:
		return "", fmt.Errorf("invalid period: %s (valid: weekly, monthly, all_time)", period)
	}
}

// errorResponse sends a standardized error response.
func (h *Handler) errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}
