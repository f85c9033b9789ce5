package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/timmy/cattube/internal/config"
	"github.com/timmy/cattube/internal/domain"
	"github.com/timmy/cattube/internal/repository"
	"github.com/timmy/cattube/internal/retry"
	"github.com/timmy/cattube/internal/service"
	"github.com/timmy/cattube/internal/signature"
	"github.com/timmy/cattube/internal/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubIndex answers searches with fixed groups and never finishes tasks.
type stubIndex struct {
	groups []service.SearchGroup
}

func (s *stubIndex) CreateTask(ctx context.Context, videoURL string) (string, error) {
	return "task", nil
}

func (s *stubIndex) GetTask(ctx context.Context, taskID string) (*service.IndexTask, error) {
	return &service.IndexTask{ID: taskID, Status: "pending"}, nil
}

func (s *stubIndex) Thumbnail(ctx context.Context, videoID string) (string, error) { return "", nil }

func (s *stubIndex) Artifact(ctx context.Context, kind domain.ArtifactKind, videoID string) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func (s *stubIndex) Fetch(ctx context.Context, url string) ([]byte, error) { return nil, nil }

func (s *stubIndex) Search(ctx context.Context, query, pageToken string) (*service.SearchPage, error) {
	return &service.SearchPage{Groups: s.groups}, nil
}

func (s *stubIndex) DeleteVideo(ctx context.Context, videoID string) error { return nil }

func (s *stubIndex) CheckIndex(ctx context.Context) error { return nil }

type stubTranscoder struct{}

func (stubTranscoder) GetAssembly(ctx context.Context, assemblyID string) (*service.Assembly, error) {
	return &service.Assembly{OK: "ASSEMBLY_EXECUTING", AssemblyID: assemblyID}, nil
}

// queuedDispatcher accepts tasks without running them.
type queuedDispatcher struct{ n int }

func (d *queuedDispatcher) Dispatch(name string, task service.Task) error {
	d.n++
	return nil
}

type fixture struct {
	videos *repository.VideoRepository
	store  *storage.LocalStorage
	index  *stubIndex
	router *gin.Engine
}

const testSecret = "tl-secret"

func newFixture(t *testing.T, poll bool) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	store, err := storage.NewLocalStorage(t.TempDir(), "http://media.test")
	require.NoError(t, err)
	urls, err := storage.NewURLCache(store, time.Hour, 16)
	require.NoError(t, err)

	f := &fixture{
		videos: repository.NewVideoRepository(db),
		store:  store,
		index:  &stubIndex{},
	}
	jobs := repository.NewJobRepository(db)
	coord := service.NewCoordinator(f.videos, jobs, repository.NewNotificationRepository(db),
		store, f.index, stubTranscoder{}, &queuedDispatcher{}, service.CoordinatorConfig{
			Retry:       retry.NoRetry(),
			VideoPrefix: "video/",
		})
	catalog := service.NewCatalogService(f.videos, f.index, store, urls, nil)

	tl := config.TransloaditConfig{
		Key:          "tl-key",
		Secret:       testSecret,
		TemplateID:   "tpl",
		Poll:         poll,
		SignatureTTL: time.Hour,
	}
	videoHandler := NewVideoHandler(coord, catalog, poll)
	r := gin.New()
	r.POST(NotificationPath, NewWebhookHandler(coord, testSecret).Transcoder)
	r.GET("/api/v1/uploads/params", NewUploadHandler(tl).Params)
	r.GET("/api/v1/search", NewSearchHandler(catalog).Search)
	r.GET("/api/v1/videos", videoHandler.List)
	r.POST("/api/v1/videos", videoHandler.Create)
	r.GET("/api/v1/videos/:id", videoHandler.Get)
	r.GET("/api/v1/videos/:id/artifacts/:kind", videoHandler.Artifact)
	r.POST("/api/v1/videos/index", videoHandler.Index)
	r.POST("/api/v1/videos/delete", videoHandler.Delete)
	r.POST("/api/v1/videos/status", videoHandler.Status)
	f.router = r
	return f
}

func (f *fixture) do(method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) addVideo(t *testing.T, v *domain.Video) *domain.Video {
	t.Helper()
	if v.OriginalKey != "" {
		require.NoError(t, f.store.Upload(context.Background(), v.OriginalKey, strings.NewReader("mp4"), 3, "video/mp4"))
	}
	require.NoError(t, f.videos.Create(context.Background(), v))
	return v
}

func TestUploadParams(t *testing.T) {
	tests := []struct {
		name       string
		poll       bool
		wantNotify string
	}{
		{"webhook mode derives notify url", false, "http://cats.example" + NotificationPath},
		{"poll mode omits notify url", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.poll)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/uploads/params", nil)
			req.Host = "cats.example"
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code)

			var resp UploadParamsResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.True(t, signature.Verify(testSecret, resp.Signature, resp.Params))

			var params signature.Params
			require.NoError(t, json.Unmarshal([]byte(resp.Params), &params))
			require.Equal(t, "tl-key", params.Auth.Key)
			require.Equal(t, "tpl", params.TemplateID)
			require.Equal(t, tt.wantNotify, params.NotifyURL)
		})
	}
}

func notificationBody(payload, sig string) string {
	form := url.Values{}
	form.Set("transloadit", payload)
	form.Set("signature", sig)
	return form.Encode()
}

func TestTranscoderNotification(t *testing.T) {
	const form = "application/x-www-form-urlencoded"
	f := newFixture(t, false)
	video := f.addVideo(t, &domain.Video{Title: "cat", AssemblyID: "a1"})

	completed := `{"ok":"ASSEMBLY_COMPLETED","assembly_id":"a1","results":{"video":[{"name":"cat.mp4"}]}}`
	unknown := `{"ok":"ASSEMBLY_COMPLETED","assembly_id":"zz","results":{"video":[{"name":"x.mp4"}]}}`
	sign := func(p string) string { return signature.Sign(testSecret, []byte(p)) }

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing signature", notificationBody(completed, ""), http.StatusUnauthorized},
		{"wrong signature", notificationBody(completed, sign(completed+" ")), http.StatusUnauthorized},
		{"malformed payload", notificationBody(`{"ok":`, sign(`{"ok":`)), http.StatusBadRequest},
		{"unknown assembly", notificationBody(unknown, sign(unknown)), http.StatusNotFound},
		{"applied", notificationBody(completed, sign(completed)), http.StatusNoContent},
		{"applied twice", notificationBody(completed, sign(completed)), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, NotificationPath, form, tt.body)
			require.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	got, err := f.videos.GetByID(context.Background(), video.ID)
	require.NoError(t, err)
	require.Equal(t, "video/a1/cat.mp4", got.OriginalKey)
	require.Equal(t, domain.VideoStatusNew, got.Status)
}

func TestCreateVideo(t *testing.T) {
	const js = "application/json"
	f := newFixture(t, false)

	w := f.do(http.MethodPost, "/api/v1/videos", js, `{"title":"Loaf","assembly_id":"a9"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created service.UploadResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, "Loaf", created.Video.Title)
	require.Empty(t, created.JobID)

	w = f.do(http.MethodPost, "/api/v1/videos", js, `{"title":"Loaf","assembly_id":"a9"}`)
	require.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodPost, "/api/v1/videos", js, `{"assembly_id":"a10"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var invalid struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &invalid))
	require.Contains(t, invalid.Fields, "title")
}

func TestVideoEndpoints(t *testing.T) {
	const js = "application/json"
	f := newFixture(t, true)
	fresh := f.addVideo(t, &domain.Video{Title: "fresh", OriginalKey: "video/fresh.mp4"})
	ready := f.addVideo(t, &domain.Video{Title: "ready", Status: domain.VideoStatusReady, IndexVideoID: "vr"})

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"list", http.MethodGet, "/api/v1/videos?page=1", "", http.StatusOK},
		{"detail", http.MethodGet, fmt.Sprintf("/api/v1/videos/%d", fresh.ID), "", http.StatusOK},
		{"detail bad id", http.MethodGet, "/api/v1/videos/abc", "", http.StatusBadRequest},
		{"detail missing", http.MethodGet, "/api/v1/videos/9999", "", http.StatusNotFound},
		{"artifact kind", http.MethodGet, fmt.Sprintf("/api/v1/videos/%d/artifacts/subtitles", ready.ID), "", http.StatusBadRequest},
		{"artifact missing", http.MethodGet, fmt.Sprintf("/api/v1/videos/%d/artifacts/logo", ready.ID), "", http.StatusNotFound},
		{"index empty selection", http.MethodPost, "/api/v1/videos/index", `{}`, http.StatusBadRequest},
		{"index", http.MethodPost, "/api/v1/videos/index", fmt.Sprintf(`{"ids":[%d]}`, fresh.ID), http.StatusAccepted},
		{"status not an array", http.MethodPost, "/api/v1/videos/status", `{"id":1}`, http.StatusBadRequest},
		{"search without query", http.MethodGet, "/api/v1/search", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(tt.method, tt.target, js, tt.body)
			require.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w := f.do(http.MethodPost, "/api/v1/videos/status", js, fmt.Sprintf(`[{"id":%d},{"id":9999}]`, fresh.ID))
	require.Equal(t, http.StatusOK, w.Code)
	var states []service.StatusView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &states))
	require.Len(t, states, 1)
	require.Equal(t, domain.VideoStatusSending, states[0].Status)

	w = f.do(http.MethodPost, "/api/v1/videos/delete", js, fmt.Sprintf(`{"ids":[%d,4242]}`, ready.ID))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, fmt.Sprintf(`{"deleted":[4242,%d]}`, ready.ID), w.Body.String())
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t, true)
	v := f.addVideo(t, &domain.Video{Title: "tabby", Status: domain.VideoStatusReady, IndexVideoID: "vt"})
	f.index.groups = []service.SearchGroup{{VideoID: "vt", Clips: []service.Clip{{Start: 1, End: 4, Score: 90, Confidence: "high"}}}}

	w := f.do(http.MethodGet, "/api/v1/search?q=tabby", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var results service.SearchResults
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	require.Equal(t, 1, results.Total)
	require.Equal(t, v.ID, results.Results[0].ID)
	require.Len(t, results.Results[0].Clips, 1)
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Title":      "title",
		"AssemblyID": "assembly_id",
		"VideoID":    "video_id",
		"PageSize":   "page_size",
	}
	for in, want := range tests {
		require.Equal(t, want, snakeCase(in), in)
	}
}
