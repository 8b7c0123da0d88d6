package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fitcoach/internal/pkg/response"
)

// InternalTokenAuth protects service-to-service endpoints with a static bearer token.
// An empty allowedIPs list accepts every source address.
func InternalTokenAuth(token string, allowedIPs []string, log *slog.Logger) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedIPs))
	for _, ip := range allowedIPs {
		if ip = strings.TrimSpace(ip); ip != "" {
			allowed[ip] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		fail := func(status int, code, msg, reason string) {
			log.Warn("internal auth failed",
				"status", status,
				"reason", reason,
				"client_ip", c.ClientIP(),
				"request_id", requestID(c),
			)
			response.Abort(c, status, code, msg)
		}

		if token == "" {
			fail(http.StatusServiceUnavailable, "INTERNAL_API_DISABLED", "Internal API is not configured", "token_not_configured")
			return
		}

		if len(allowed) > 0 {
			if _, ok := allowed[c.ClientIP()]; !ok {
				fail(http.StatusForbidden, "AUTH_INVALID", "IP not allowed", "ip_not_allowed")
				return
			}
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			fail(http.StatusUnauthorized, "AUTH_MISSING", "Authorization header is required", "missing_auth")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			fail(http.StatusUnauthorized, "AUTH_INVALID", "Authorization header must be 'Bearer <token>'", "invalid_auth_format")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			fail(http.StatusForbidden, "AUTH_INVALID", "Invalid internal token", "invalid_token")
			return
		}

		c.Next()
	}
}
