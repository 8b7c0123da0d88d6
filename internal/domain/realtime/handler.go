package realtime

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fitcoach/internal/pkg/response"
)

type Handler struct {
	hub      *Hub
	cfg      WSConfig
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler builds the websocket endpoint. An empty allowedOrigins or one
// containing "*" accepts every origin.
func NewHandler(hub *Hub, cfg WSConfig, allowedOrigins []string, log *slog.Logger) *Handler {
	h := &Handler{
		hub: hub,
		cfg: cfg.normalized(),
		log: log.With("component", "ws_handler"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// non-browser clients
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[u.Scheme+"://"+u.Host]
		return ok
	}
}

// Connect upgrades an authenticated request and serves the push channel until
// the socket dies or is superseded.
//
// Endpoint: GET /api/v1/ws (Authorization header or ?token=)
func (h *Handler) Connect(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		h.log.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	ch := NewWSChannel(ws, h.cfg, h.log.With("user_id", userID))
	conn := h.hub.Register(userID, ch)
	defer func() {
		h.hub.Release(conn)
		_ = ch.Close()
	}()

	go ch.writePump()
	_ = ch.Send(connectedMessage(conn.ID))
	ch.readPump()
}

// Stats reports hub occupancy.
func (h *Handler) Stats(c *gin.Context) {
	response.Success(c, http.StatusOK, h.hub.Stats())
}

func userIDFrom(c *gin.Context) (int64, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id > 0
}
