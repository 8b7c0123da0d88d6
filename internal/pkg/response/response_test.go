package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("success", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		Success(c, http.StatusCreated, gin.H{"id": "a"})

		assert.Equal(t, http.StatusCreated, w.Code)
		body := decode(t, w)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "a", body["data"].(map[string]any)["id"])
		assert.NotContains(t, body, "error")
	})

	t.Run("error with details", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		ErrorWithDetails(c, http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE", "nope", gin.H{"reason": "unsupported-type"})

		body := decode(t, w)
		assert.Equal(t, false, body["success"])
		e := body["error"].(map[string]any)
		assert.Equal(t, "UNSUPPORTED_TYPE", e["code"])
		assert.Equal(t, "unsupported-type", e["details"].(map[string]any)["reason"])
	})

	t.Run("abort stops the chain", func(t *testing.T) {
		r := gin.New()
		reached := false
		r.GET("/", func(c *gin.Context) { Abort(c, http.StatusForbidden, "FORBIDDEN", "no") }, func(c *gin.Context) { reached = true })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.False(t, reached)
		assert.NotContains(t, decode(t, w)["error"], "details")
	})
}
