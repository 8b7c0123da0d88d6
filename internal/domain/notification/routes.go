package notification

import "github.com/gin-gonic/gin"

// RegisterInternalRoutes expects r to already carry internal-token auth.
func RegisterInternalRoutes(r *gin.RouterGroup, h *Handler) {
	r.POST("/events", h.Publish)
}
