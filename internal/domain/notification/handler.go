package notification

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fitcoach/internal/pkg/logger"
	"fitcoach/internal/pkg/response"
	"fitcoach/internal/pkg/validator"
)

// Handler is the internal intake for events raised by the CRUD services.
type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// Publish accepts one event and fans it out to connected recipients.
//
// Endpoint: POST /api/v1/internal/events
func (h *Handler) Publish(c *gin.Context) {
	var e Event
	if err := c.ShouldBindJSON(&e); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(e); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid event", errs)
		return
	}

	res, err := h.dispatcher.Publish(c.Request.Context(), e)
	switch {
	case err == nil:
		response.Success(c, http.StatusAccepted, res)
	case errors.Is(err, ErrUnknownEventKind):
		response.Error(c, http.StatusBadRequest, "UNKNOWN_EVENT_KIND", err.Error())
	case errors.Is(err, ErrInvalidEvent):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		logger.FromContext(c.Request.Context(), nil).Error("publish event failed", "kind", e.Kind, "error", err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to publish event")
	}
}
