package upload

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the user-facing file endpoints behind auth.
func RegisterRoutes(r *gin.RouterGroup, h *Handler, auth gin.HandlerFunc) {
	files := r.Group("/files", auth)
	{
		files.POST("", h.Upload)
		files.GET("/:id", h.Get)
		files.GET("/:id/meta", h.Meta)
		files.DELETE("/:id", h.Delete)
	}
}

// RegisterInternalRoutes expects r to already carry internal-token auth.
func RegisterInternalRoutes(r *gin.RouterGroup, h *Handler) {
	refs := r.Group("/files/:id/references")
	{
		refs.POST("", h.AttachReference)
		refs.DELETE("", h.DetachReference)
	}
}
