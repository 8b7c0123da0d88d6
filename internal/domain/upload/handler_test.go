package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"fitcoach/internal/database"
	"fitcoach/internal/domain/access"
	"fitcoach/internal/domain/artifact"
	"fitcoach/internal/domain/notification"
	"fitcoach/internal/domain/realtime"
	"fitcoach/internal/domain/relationship"
	"fitcoach/internal/pkg/imaging"
	"fitcoach/internal/pkg/logger"
	"fitcoach/internal/pkg/storage"
)

const (
	clientID   int64 = 1
	trainerID  int64 = 2
	strangerID int64 = 3
)

// recorder is an in-memory push channel.
type recorder struct {
	mu     sync.Mutex
	frames []realtime.ServerMessage
}

func (r *recorder) Send(msg []byte) error {
	var m realtime.ServerMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, m)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) kinds() []notification.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification.Kind, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f.Notification.Kind)
	}
	return out
}

func (r *recorder) last() *notification.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1].Notification
}

// failingStorage refuses every write.
type failingStorage struct{ storage.Storage }

func (failingStorage) Save(context.Context, string, io.Reader, string) error {
	return errors.New("bucket unavailable")
}

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	hub    *realtime.Hub
	store  *artifact.Store
	inbox  map[int64]*recorder
}

func newTestEnv(t *testing.T, blobs storage.Storage) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Discard()

	dsn := fmt.Sprintf("file:upload_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.Connect(dsn, database.Options{MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, &artifact.StoredArtifact{}, &artifact.Variant{}, &artifact.Reference{}, &relationship.Link{}))
	t.Cleanup(func() { _ = database.Close(db) })

	if blobs == nil {
		blobs, err = storage.NewLocalStorage(storage.Config{BasePath: t.TempDir()})
		require.NoError(t, err)
	}

	links := relationship.NewService(relationship.NewRepository(db))
	require.NoError(t, links.Link(context.Background(), trainerID, clientID))

	hub := realtime.NewHub(log)
	store := artifact.NewStore(blobs, artifact.NewRepository(db), imaging.NewPipeline(85), log)
	dispatcher := notification.NewDispatcher(notification.NewRouter(links, log), hub, log)
	svc := NewService(artifact.NewValidator(nil), store, access.NewGate(links, log), dispatcher, log)
	h := NewHandler(svc)

	r := gin.New()
	api := r.Group("/api/v1")
	RegisterRoutes(api, h, testAuth())
	RegisterInternalRoutes(api.Group("/internal"), h)

	env := &testEnv{router: r, db: db, hub: hub, store: store, inbox: map[int64]*recorder{}}
	for _, id := range []int64{clientID, trainerID, strangerID} {
		env.inbox[id] = &recorder{}
		hub.Register(id, env.inbox[id])
	}
	return env
}

func testAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader("X-Test-User-ID"), 10, 64)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set("user_id", id)
		c.Next()
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request, userID int64) *httptest.ResponseRecorder {
	t.Helper()
	if userID > 0 {
		req.Header.Set("X-Test-User-ID", strconv.FormatInt(userID, 10))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(t *testing.T, userID int64, category, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("category", category))
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(t, req, userID)
}

func (e *testEnv) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(model).Count(&n).Error)
	return n
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

// photo encodes a noisy JPEG so the file has a realistic size.
func photo(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := uint32(7)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			seed = seed*1664525 + 1013904223
			img.Set(x, y, color.RGBA{R: uint8(seed >> 24), G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	return buf.Bytes()
}

func uploadedID(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var data artifactResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	return data.ID
}

func TestUpload_ProgressPhotoNotifiesOwnerAndTrainer(t *testing.T) {
	env := newTestEnv(t, nil)
	data := photo(t, 300, 220)

	w := env.upload(t, clientID, "progress-photo", "week-3.jpg", data)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var got artifactResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &got))
	assert.Equal(t, artifact.CategoryProgressPhoto, got.Category)
	assert.Equal(t, "image/jpeg", got.ContentType)
	assert.Equal(t, clientID, got.OwnerID)
	assert.Len(t, got.VariantIDs, 3)

	assert.Equal(t, []notification.Kind{notification.KindFileUploaded}, env.inbox[clientID].kinds())
	assert.Equal(t, []notification.Kind{notification.KindFileUploaded}, env.inbox[trainerID].kinds())
	assert.Empty(t, env.inbox[strangerID].kinds())

	n := env.inbox[trainerID].last()
	assert.Equal(t, got.ID, n.Data["subject_id"])
	assert.Equal(t, "progress-photo", n.Data["category"])
}

func TestUpload_OfflineTrainerIsSkipped(t *testing.T) {
	env := newTestEnv(t, nil)
	env.hub.Unregister(trainerID)

	w := env.upload(t, clientID, "meal-photo", "lunch.png", photo(t, 64, 64))
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Len(t, env.inbox[clientID].kinds(), 1)
	assert.Empty(t, env.inbox[trainerID].kinds())
}

func TestUpload_TrainerDocumentReachesClient(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.upload(t, trainerID, "document", "plan.pdf", []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF\n"))
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, []notification.Kind{notification.KindFileUploaded}, env.inbox[trainerID].kinds())
	assert.Equal(t, []notification.Kind{notification.KindFileUploaded}, env.inbox[clientID].kinds())
	assert.Empty(t, env.inbox[strangerID].kinds())
}

func TestUpload_Rejections(t *testing.T) {
	env := newTestEnv(t, nil)
	jpg := photo(t, 64, 64)

	tests := []struct {
		name     string
		category string
		data     []byte
		status   int
		code     string
		reason   string
	}{
		{"profile photo over 5 MiB", "profile-photo", bytes.Repeat([]byte{0xFF}, 20<<20), http.StatusRequestEntityTooLarge, "TOO_LARGE", "too-large"},
		{"pdf as meal photo", "meal-photo", []byte("%PDF-1.4\n%%EOF\n"), http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE", "unsupported-type"},
		{"truncated jpeg", "progress-photo", jpg[:len(jpg)/2], http.StatusUnprocessableEntity, "CORRUPT_CONTENT", "corrupt-content"},
		{"empty file", "document", nil, http.StatusUnprocessableEntity, "CORRUPT_CONTENT", "corrupt-content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.upload(t, clientID, tt.category, "x.jpg", tt.data)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			resp := decode(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, tt.reason, resp.Error.Details["reason"])
		})
	}

	assert.Zero(t, env.count(t, &artifact.StoredArtifact{}))
	assert.Zero(t, env.count(t, &artifact.Variant{}))
	for _, box := range env.inbox {
		assert.Empty(t, box.kinds())
	}
}

func TestUpload_BadRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.upload(t, clientID, "selfie", "a.jpg", photo(t, 10, 10))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", strings.NewReader(`{"category":"document"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, env.do(t, req, clientID).Code)

	w = env.upload(t, 0, "document", "a.pdf", []byte("%PDF-1.4\n"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpload_StorageFailureNotifiesNobody(t *testing.T) {
	local, err := storage.NewLocalStorage(storage.Config{BasePath: t.TempDir()})
	require.NoError(t, err)
	env := newTestEnv(t, failingStorage{local})

	w := env.upload(t, clientID, "progress-photo", "p.jpg", photo(t, 80, 80))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "STORAGE_ERROR", decode(t, w).Error.Code)
	assert.NotContains(t, w.Body.String(), "bucket unavailable")

	assert.Zero(t, env.count(t, &artifact.StoredArtifact{}))
	for _, box := range env.inbox {
		assert.Empty(t, box.kinds())
	}
}

func TestGet_AccessControlAndRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	data := photo(t, 500, 400)
	id := uploadedID(t, env.upload(t, clientID, "progress-photo", "p.jpg", data))

	get := func(userID int64, path string) *httptest.ResponseRecorder {
		return env.do(t, httptest.NewRequest(http.MethodGet, path, nil), userID)
	}

	w := get(clientID, "/api/v1/files/"+id)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes(), "byte-identical round trip")
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	etag := w.Header().Get("ETag")
	assert.NotEmpty(t, etag)

	w = get(trainerID, "/api/v1/files/"+id+"?variant=thumbnail")
	require.Equal(t, http.StatusOK, w.Code)
	thumb, _, err := image.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.LessOrEqual(t, thumb.Width, 150)
	assert.LessOrEqual(t, thumb.Height, 150)

	w = get(strangerID, "/api/v1/files/"+id)
	assert.Equal(t, http.StatusForbidden, w.Code)
	missing := get(strangerID, "/api/v1/files/"+uuid.NewString())
	assert.Equal(t, http.StatusForbidden, missing.Code)
	assert.JSONEq(t, w.Body.String(), missing.Body.String(), "denied and missing look the same")

	w = get(clientID, "/api/v1/files/"+id+"?variant=poster")
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/"+id, nil)
	req.Header.Set("If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, env.do(t, req, clientID).Code)
}

func TestMeta(t *testing.T) {
	env := newTestEnv(t, nil)
	id := uploadedID(t, env.upload(t, clientID, "document", "plan.pdf", []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF\n")))

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+id+"/meta", nil), trainerID)
	require.Equal(t, http.StatusOK, w.Code)
	var got artifactResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &got))
	assert.Equal(t, "application/pdf", got.ContentType)
	assert.Equal(t, "plan.pdf", got.OriginalName)
	assert.Empty(t, got.VariantIDs)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+id, nil), clientID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "plan.pdf")
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t, nil)
	id := uploadedID(t, env.upload(t, clientID, "meal-photo", "m.jpg", photo(t, 90, 90)))

	del := func(userID int64) int {
		return env.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/files/"+id, nil), userID).Code
	}

	assert.Equal(t, http.StatusForbidden, del(strangerID))
	assert.Equal(t, int64(1), env.count(t, &artifact.StoredArtifact{}))

	assert.Equal(t, http.StatusOK, del(trainerID))
	assert.Zero(t, env.count(t, &artifact.StoredArtifact{}))
	assert.Zero(t, env.count(t, &artifact.Variant{}))
	assert.Equal(t, notification.KindFileDeleted, env.inbox[clientID].last().Kind)
	assert.Equal(t, notification.KindFileDeleted, env.inbox[trainerID].last().Kind)

	assert.Equal(t, http.StatusOK, del(clientID), "idempotent")
	assert.Equal(t, http.StatusOK, del(strangerID), "unknown ids succeed")
}

func TestInternalReferences(t *testing.T) {
	env := newTestEnv(t, nil)
	id := uploadedID(t, env.upload(t, clientID, "meal-photo", "m.jpg", photo(t, 40, 40)))

	ref := func(method, artifactID, body string) int {
		req := httptest.NewRequest(method, "/api/v1/internal/files/"+artifactID+"/references", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return env.do(t, req, 0).Code
	}

	assert.Equal(t, http.StatusOK, ref(http.MethodPost, id, `{"ref_type":"meal","ref_id":"17"}`))
	assert.Equal(t, http.StatusOK, ref(http.MethodPost, id, `{"ref_type":"meal","ref_id":"17"}`))
	assert.Equal(t, int64(1), env.count(t, &artifact.Reference{}))

	assert.Equal(t, http.StatusNotFound, ref(http.MethodPost, "nope", `{"ref_type":"meal","ref_id":"17"}`))
	assert.Equal(t, http.StatusBadRequest, ref(http.MethodPost, id, `{"ref_type":"meal"}`))

	assert.Equal(t, http.StatusOK, ref(http.MethodDelete, id, `{"ref_type":"meal","ref_id":"17"}`))
	assert.Zero(t, env.count(t, &artifact.Reference{}))
}

func TestHandler_RejectsNonIntegerIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/files/:id/meta", func(c *gin.Context) {
		c.Set("user_id", float64(clientID))
		c.Next()
	}, NewHandler(nil).Meta)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/some-id/meta", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
