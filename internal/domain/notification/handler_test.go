package notification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitcoach/internal/pkg/logger"
)

func setupRouter(hub Deliverer, dir Directory) *gin.Engine {
	gin.SetMode(gin.TestMode)
	d := NewDispatcher(NewRouter(dir, logger.Discard()), hub, logger.Discard())
	r := gin.New()
	RegisterInternalRoutes(r.Group("/internal"), NewHandler(d))
	return r
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/internal/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Publish(t *testing.T) {
	hub := newFakeHub(7, 8)
	r := setupRouter(hub, &fakeDirectory{trainers: map[int64][]int64{7: {8}}})

	w := post(r, `{"kind":"meal.completed","actor_id":7,"subject_id":"meal-12","data":{"meal":"lunch"}}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		Success bool          `json:"success"`
		Data    PublishResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, PublishResult{Routed: 2, Delivered: 2}, resp.Data)

	require.Len(t, hub.delivered[8], 1)
	got := hub.delivered[8][0]
	assert.Equal(t, KindMealCompleted, got.Kind)
	assert.Equal(t, "lunch", got.Data["meal"])
	assert.Equal(t, "meal-12", got.Data["subject_id"])
}

func TestHandler_PublishErrors(t *testing.T) {
	r := setupRouter(newFakeHub(), nil)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"kind":`, "VALIDATION_ERROR"},
		{"missing actor", `{"kind":"meal.completed"}`, "VALIDATION_ERROR"},
		{"unknown kind", `{"kind":"workout.skipped","actor_id":1}`, "UNKNOWN_EVENT_KIND"},
		{"direct message without recipient", `{"kind":"message.direct","actor_id":1}`, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(r, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}
}
