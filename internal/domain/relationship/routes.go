package relationship

import "github.com/gin-gonic/gin"

// RegisterInternalRoutes expects r to already carry internal-token auth.
func RegisterInternalRoutes(r *gin.RouterGroup, h *Handler) {
	links := r.Group("/links")
	{
		links.POST("", h.Link)
		links.DELETE("", h.Unlink)
	}
}
