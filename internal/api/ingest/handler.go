// Package ingest accepts document change events over HTTP and runs the
// matching triggers synchronously.
package ingest

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/habitroyale/habit-engine/internal/events"
	"github.com/habitroyale/habit-engine/internal/triggers"
	"github.com/habitroyale/habit-engine/pkg/logger"
)

// TokenHeader carries the shared secret of protected endpoints.
const TokenHeader = "X-Ingest-Token"

// Dispatcher runs the triggers of a change.
type Dispatcher interface {
	Dispatch(ctx context.Context, change events.Change) error
}

// Handler handles change event ingestion.
type Handler struct {
	dispatcher Dispatcher
	token      string
	log        *logger.Logger
}

// NewHandler creates a new ingest handler.
func NewHandler(dispatcher Dispatcher, token string, log *logger.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		token:      token,
		log:        log.Component("ingest"),
	}
}

// RegisterRoutes mounts the ingest endpoint on an /api/v1 group.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/events", TokenAuth(h.token), h.PostEvent)
}

// PostEvent dispatches one change event.
// POST /api/v1/events.
//
// 202 means every trigger succeeded. 422 marks events that will never
// succeed and must not be retried. 500 asks the caller to retry.
func (h *Handler) PostEvent(c *gin.Context) {
	var change events.Change
	if err := c.ShouldBindJSON(&change); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "invalid change event: "+err.Error())
		return
	}

	err := h.dispatcher.Dispatch(c.Request.Context(), change)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{
			"id":     change.ID,
			"status": "processed",
		})
	case triggers.IsPermanent(err):
		h.log.Warn().Err(err).Str("event_id", change.ID).Str("path", change.Path).Msg("Rejected change event")
		h.errorResponse(c, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error().Err(err).Str("event_id", change.ID).Str("path", change.Path).Msg("Failed to process change event")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to process change event")
	}
}

// TokenAuth returns middleware comparing TokenHeader with token. An empty
// token rejects every request.
func TokenAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(TokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     "invalid or missing token",
				"timestamp": time.Now().UTC(),
			})
			return
		}
		c.Next()
	}
}

func (h *Handler) errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}
