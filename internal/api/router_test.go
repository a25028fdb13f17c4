package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/AINewsHub/internal/collector"
	"github.com/LJTian/AINewsHub/internal/logger"
	"github.com/LJTian/AINewsHub/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func article(source, url, date string) collector.Article {
	return collector.Article{
		Source:      source,
		Title:       "title " + url,
		URL:         url,
		Date:        date,
		Categories:  []string{},
		CollectedAt: "2025-01-05 09:00:00",
	}
}

func seededStore(t *testing.T) *storage.Store {
	t.Helper()
	store := storage.NewStore(t.TempDir(), 10, nil)
	require.NoError(t, store.Save([]collector.Article{
		article("Source A", "https://a.example/2", "2025-01-02"),
		article("Source A", "https://a.example/1", "2025-01-01"),
		article("Source B", "https://b.example/3", "2025-01-03"),
	}))
	return store
}

func newRouter(s *Server) *gin.Engine {
	r := gin.New()
	s.RegisterRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func TestHealth(t *testing.T) {
	r := newRouter(NewServer(seededStore(t), logger.Discard()))
	w, _ := do(t, r, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestGetIndex(t *testing.T) {
	r := newRouter(NewServer(seededStore(t), logger.Discard()))
	w, env := do(t, r, http.MethodGet, "/api/v1/index")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", env.Code)
	assert.Equal(t, "success", env.Message)

	var index storage.Index
	require.NoError(t, json.Unmarshal(env.Data, &index))
	assert.Equal(t, 3, index.TotalArticles)
	assert.Equal(t, 2, index.TotalSources)
	require.Len(t, index.PreviewArticles, 3)
	assert.Equal(t, "https://b.example/3", index.PreviewArticles[0].URL)
}

func TestListSources(t *testing.T) {
	r := newRouter(NewServer(seededStore(t), logger.Discard()))
	w, env := do(t, r, http.MethodGet, "/api/v1/sources")
	require.Equal(t, http.StatusOK, w.Code)

	var sources []storage.IndexSource
	require.NoError(t, json.Unmarshal(env.Data, &sources))
	require.Len(t, sources, 2)
	assert.Equal(t, "sources/source-a.json", sources[0].File)
	assert.Equal(t, "2025-01-02", sources[0].LatestDate)
}

func TestGetSource(t *testing.T) {
	r := newRouter(NewServer(seededStore(t), logger.Discard()))

	w, env := do(t, r, http.MethodGet, "/api/v1/sources/source-a")
	require.Equal(t, http.StatusOK, w.Code)
	var shard storage.Shard
	require.NoError(t, json.Unmarshal(env.Data, &shard))
	assert.Equal(t, "Source A", shard.Source)
	assert.Equal(t, 2, shard.TotalArticles)

	w, env = do(t, r, http.MethodGet, "/api/v1/sources/nobody")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", env.Code)

	w, _ = do(t, r, http.MethodGet, "/api/v1/sources/..")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCorruptIndexIsInternalError(t *testing.T) {
	store := storage.NewStore(t.TempDir(), 10, nil)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "index.json"), []byte("{broken"), 0o644))

	r := newRouter(NewServer(store, logger.Discard()))
	w, env := do(t, r, http.MethodGet, "/api/v1/index")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", env.Code)
}

func TestCachedUntilInvalidated(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cache := storage.NewCache(rdb, time.Minute)

	store := seededStore(t)
	r := newRouter(NewServer(store, logger.Discard(), WithCache(cache)))

	statsTotal := func() int {
		w, env := do(t, r, http.MethodGet, "/api/v1/stats")
		require.Equal(t, http.StatusOK, w.Code)
		var stats storage.Stats
		require.NoError(t, json.Unmarshal(env.Data, &stats))
		return stats.TotalArticles
	}

	assert.Equal(t, 3, statsTotal())

	require.NoError(t, store.Save([]collector.Article{article("Source C", "https://c.example/1", "")}))
	// 缓存仍返回上一轮的结果
	assert.Equal(t, 3, statsTotal())

	require.NoError(t, cache.Invalidate(context.Background()))
	assert.Equal(t, 1, statsTotal())
}

type fakeRunner struct {
	accept bool
	calls  int
}

func (f *fakeRunner) Trigger() bool {
	f.calls++
	return f.accept
}

func TestTriggerCollect(t *testing.T) {
	runner := &fakeRunner{accept: true}
	r := newRouter(NewServer(seededStore(t), logger.Discard(), WithRunner(runner)))

	w, env := do(t, r, http.MethodPost, "/api/v1/collect")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "ok", env.Code)

	runner.accept = false
	w, env = do(t, r, http.MethodPost, "/api/v1/collect")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "busy", env.Code)
	assert.Equal(t, 2, runner.calls)
}

func TestOptionalRoutesNotRegistered(t *testing.T) {
	r := newRouter(NewServer(seededStore(t), logger.Discard()))

	w, _ := do(t, r, http.MethodPost, "/api/v1/collect")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = do(t, r, http.MethodGet, "/api/v1/articles")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type fakeLister struct {
	source, date string
	limit        int
	records      []storage.ArticleRecord
}

func (f *fakeLister) List(_ context.Context, source, date string, limit int) ([]storage.ArticleRecord, error) {
	f.source, f.date, f.limit = source, date, limit
	return f.records, nil
}

func TestListArticlesFromMirror(t *testing.T) {
	lister := &fakeLister{records: []storage.ArticleRecord{{ID: "x", Source: "OpenAI", Title: "GPT"}}}
	r := newRouter(NewServer(seededStore(t), logger.Discard(), WithMirror(lister)))

	w, env := do(t, r, http.MethodGet, "/api/v1/articles?source=OpenAI&date=2025-01-02&limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OpenAI", lister.source)
	assert.Equal(t, "2025-01-02", lister.date)
	assert.Equal(t, 5, lister.limit)

	var records []storage.ArticleRecord
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "GPT", records[0].Title)

	lister.records = nil
	w, env = do(t, r, http.MethodGet, "/api/v1/articles?limit=abc")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, lister.limit)
	assert.JSONEq(t, `[]`, string(env.Data))
}
