package realtime

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the push endpoints. auth must authenticate the caller;
// admin must additionally require the admin role.
func RegisterRoutes(r *gin.RouterGroup, h *Handler, auth, admin gin.HandlerFunc) {
	ws := r.Group("/ws", auth)
	{
		ws.GET("", h.Connect)
		ws.GET("/stats", admin, h.Stats)
	}
}
