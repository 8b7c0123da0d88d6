package relationship

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"fitcoach/internal/pkg/response"
	"fitcoach/internal/pkg/validator"
)

// Handler serves the internal endpoints the user service uses to keep links in sync.
type Handler struct {
	service *Service
	log     *slog.Logger
}

func NewHandler(service *Service, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

type linkRequest struct {
	TrainerID int64 `json:"trainer_id" validate:"required,gt=0"`
	ClientID  int64 `json:"client_id" validate:"required,gt=0"`
}

func bindLink(c *gin.Context) (*linkRequest, bool) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return nil, false
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", errs)
		return nil, false
	}
	return &req, true
}

// Link mirrors a new trainer↔client link. Re-sending an existing link succeeds.
func (h *Handler) Link(c *gin.Context) {
	req, ok := bindLink(c)
	if !ok {
		return
	}
	err := h.service.Link(c.Request.Context(), req.TrainerID, req.ClientID)
	switch {
	case err == nil:
		response.Success(c, http.StatusCreated, gin.H{"trainer_id": req.TrainerID, "client_id": req.ClientID})
	case errors.Is(err, ErrAlreadyLinked):
		response.Success(c, http.StatusOK, gin.H{"trainer_id": req.TrainerID, "client_id": req.ClientID})
	case errors.Is(err, ErrSelfLink):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		h.log.Error("link failed", "trainer_id", req.TrainerID, "client_id", req.ClientID, "error", err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to link users")
	}
}

// Unlink removes a link. Removing an unknown link succeeds.
func (h *Handler) Unlink(c *gin.Context) {
	req, ok := bindLink(c)
	if !ok {
		return
	}
	err := h.service.Unlink(c.Request.Context(), req.TrainerID, req.ClientID)
	if err != nil && !errors.Is(err, ErrNotLinked) {
		h.log.Error("unlink failed", "trainer_id", req.TrainerID, "client_id", req.ClientID, "error", err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to unlink users")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": err == nil})
}
