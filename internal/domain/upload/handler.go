package upload

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fitcoach/internal/domain/artifact"
	"fitcoach/internal/pkg/logger"
	"fitcoach/internal/pkg/response"
	"fitcoach/internal/pkg/validator"
)

const (
	// multipartOverhead is headroom for boundaries and form fields on top of the file itself.
	multipartOverhead = 1 << 20
	// multipartMemory is how much of a form is buffered in memory before spilling to temp files.
	multipartMemory = 8 << 20
)

// Handler handles HTTP requests for files.
// Any authenticated user can upload; reads and deletes go through the access gate.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type artifactResponse struct {
	ID           string             `json:"id"`
	Category     artifact.Category  `json:"category"`
	OwnerID      int64              `json:"owner_id"`
	OriginalName string             `json:"original_name,omitempty"`
	ContentType  string             `json:"content_type"`
	Size         int64              `json:"size"`
	Checksum     string             `json:"checksum"`
	Width        int                `json:"width,omitempty"`
	Height       int                `json:"height,omitempty"`
	VariantIDs   []string           `json:"variant_ids"`
	Variants     []artifact.Variant `json:"variants,omitempty"`
	CreatedAt    string             `json:"created_at"`
}

func toResponse(a *artifact.StoredArtifact, withVariants bool) artifactResponse {
	resp := artifactResponse{
		ID:           a.ID,
		Category:     a.Category,
		OwnerID:      a.OwnerID,
		OriginalName: a.OriginalName,
		ContentType:  a.ContentType,
		Size:         a.Size,
		Checksum:     a.Checksum,
		Width:        a.Width,
		Height:       a.Height,
		VariantIDs:   a.VariantIDs(),
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
	}
	if withVariants {
		resp.Variants = a.Variants
	}
	return resp
}

// Upload accepts multipart/form-data with a "file" part and a "category" field.
//
// Endpoint: POST /api/v1/files
func (h *Handler) Upload(c *gin.Context) {
	userID := mustUserID(c)
	if userID == 0 {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.service.MaxUploadBytes()+multipartOverhead)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			writeRejection(c, artifact.ErrTooLarge)
			return
		}
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Expected multipart/form-data")
		return
	}
	defer func() { _ = c.Request.MultipartForm.RemoveAll() }()

	category, err := artifact.ParseCategory(c.PostForm("category"))
	if err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown category",
			gin.H{"allowed": artifact.Categories})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", ErrNoFile.Error())
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Failed to read file")
		return
	}
	defer file.Close()

	// One byte past the cap is enough for the validator to say too-large.
	data, err := io.ReadAll(io.LimitReader(file, h.service.Limit(category)+1))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Failed to read file")
		return
	}

	a, err := h.service.Upload(c.Request.Context(), UploadInput{
		UserID:   userID,
		Category: category,
		FileName: fileHeader.Filename,
		Data:     data,
	})
	if err != nil {
		if artifact.RejectReason(err) != "" {
			writeRejection(c, err)
			return
		}
		logger.FromContext(c.Request.Context(), nil).Error("upload failed", "error", err)
		response.Error(c, http.StatusInternalServerError, "STORAGE_ERROR", "Upload failed, please retry")
		return
	}

	response.Success(c, http.StatusCreated, toResponse(a, false))
}

// Get streams the original, or a variant with ?variant=thumbnail|medium|large.
//
// Endpoint: GET /api/v1/files/:id
func (h *Handler) Get(c *gin.Context) {
	userID := mustUserID(c)
	if userID == 0 {
		return
	}

	variant := c.Query("variant")
	res, err := h.service.Fetch(c.Request.Context(), userID, c.Param("id"), variant)
	if err != nil {
		h.writeError(c, err)
		return
	}

	etag := fmt.Sprintf("%q", res.Artifact.Checksum)
	if res.Variant != nil {
		etag = fmt.Sprintf("%q", res.Artifact.Checksum+"-"+res.Variant.Name)
	}
	c.Header("ETag", etag)
	c.Header("Cache-Control", "private, max-age=3600")
	if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
		c.Status(http.StatusNotModified)
		return
	}

	if res.Artifact.Category == artifact.CategoryDocument && res.Artifact.OriginalName != "" {
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": res.Artifact.OriginalName,
		}))
	}
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, res.ContentType, res.Data)
}

// Meta returns the artifact's metadata with its variants.
//
// Endpoint: GET /api/v1/files/:id/meta
func (h *Handler) Meta(c *gin.Context) {
	userID := mustUserID(c)
	if userID == 0 {
		return
	}

	a, err := h.service.Meta(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, toResponse(a, true))
}

// Delete removes an artifact. Deleting an unknown id succeeds.
//
// Endpoint: DELETE /api/v1/files/:id
func (h *Handler) Delete(c *gin.Context) {
	userID := mustUserID(c)
	if userID == 0 {
		return
	}

	id := c.Param("id")
	if err := h.service.Delete(c.Request.Context(), userID, id); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": id, "deleted": true})
}

type referenceRequest struct {
	RefType string `json:"ref_type" validate:"required,max=64"`
	RefID   string `json:"ref_id" validate:"required,max=128"`
}

func bindReference(c *gin.Context) (*referenceRequest, bool) {
	var req referenceRequest
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

// AttachReference marks the artifact as used by a domain record, protecting it from the orphan sweep.
//
// Endpoint: POST /api/v1/internal/files/:id/references
func (h *Handler) AttachReference(c *gin.Context) {
	req, ok := bindReference(c)
	if !ok {
		return
	}
	err := h.service.AttachReference(c.Request.Context(), c.Param("id"), req.RefType, req.RefID)
	switch {
	case err == nil:
		response.Success(c, http.StatusOK, gin.H{"artifact_id": c.Param("id"), "ref_type": req.RefType, "ref_id": req.RefID})
	case errors.Is(err, artifact.ErrNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Artifact not found")
	default:
		logger.FromContext(c.Request.Context(), nil).Error("attach reference failed", "artifact_id", c.Param("id"), "error", err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to attach reference")
	}
}

// DetachReference removes a domain record's reference. Unknown references succeed.
//
// Endpoint: DELETE /api/v1/internal/files/:id/references
func (h *Handler) DetachReference(c *gin.Context) {
	req, ok := bindReference(c)
	if !ok {
		return
	}
	if err := h.service.DetachReference(c.Request.Context(), c.Param("id"), req.RefType, req.RefID); err != nil {
		logger.FromContext(c.Request.Context(), nil).Error("detach reference failed", "artifact_id", c.Param("id"), "error", err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to detach reference")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"artifact_id": c.Param("id"), "detached": true})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAccessDenied):
		response.Error(c, http.StatusForbidden, "FORBIDDEN", "Access denied")
	case errors.Is(err, artifact.ErrVariantNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Variant not found")
	default:
		logger.FromContext(c.Request.Context(), nil).Error("file request failed", "artifact_id", c.Param("id"), "error", err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

var rejectionStatus = map[string]struct {
	status int
	code   string
	msg    string
}{
	"unsupported-type": {http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE", "File type is not allowed for this category"},
	"too-large":        {http.StatusRequestEntityTooLarge, "TOO_LARGE", "File exceeds the size limit for this category"},
	"corrupt-content":  {http.StatusUnprocessableEntity, "CORRUPT_CONTENT", "File content is corrupt or unreadable"},
}

func writeRejection(c *gin.Context, err error) {
	reason := artifact.RejectReason(err)
	r := rejectionStatus[reason]
	response.ErrorWithDetails(c, r.status, r.code, r.msg, gin.H{"reason": reason})
}

// isBodyTooLarge reports whether parsing the form tripped the body cap.
func isBodyTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large")
}

func mustUserID(c *gin.Context) int64 {
	id, exists := c.Get("user_id")
	if !exists {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return 0
	}
	if v, ok := id.(int64); ok {
		return v
	}
	response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid user id")
	return 0
}
