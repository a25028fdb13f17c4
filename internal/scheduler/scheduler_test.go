package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LJTian/AINewsHub/internal/collector"
	"github.com/LJTian/AINewsHub/internal/config"
	"github.com/LJTian/AINewsHub/internal/logger"
	"github.com/LJTian/AINewsHub/internal/storage"
)

type fakeFetcher struct {
	name  string
	items []collector.Article
	err   error
	calls *int
}

func (f fakeFetcher) Name() string { return f.name }

func (f fakeFetcher) Fetch(context.Context) ([]collector.Article, error) {
	*f.calls++
	return f.items, f.err
}

type fakeMirror struct{ got []collector.Article }

func (m *fakeMirror) Replace(_ context.Context, articles []collector.Article) error {
	m.got = articles
	return nil
}

type fakeCache struct{ invalidated int }

func (c *fakeCache) Invalidate(context.Context) error {
	c.invalidated++
	return nil
}

func item(source, url, date string) collector.Article {
	return collector.Article{Source: source, Title: url, URL: url, Date: date, Categories: []string{}, CollectedAt: "2025-01-05 00:00:00"}
}

func disabled() *bool {
	f := false
	return &f
}

// harness 按名称返回预置的 fakeFetcher，并记录每个源被调用的次数
type harness struct {
	fetchers map[string]fakeFetcher
	calls    map[string]*int
	built    []string
}

func newHarness() *harness {
	return &harness{fetchers: map[string]fakeFetcher{}, calls: map[string]*int{}}
}

func (h *harness) add(name string, items []collector.Article, err error) {
	n := 0
	h.calls[name] = &n
	h.fetchers[name] = fakeFetcher{name: name, items: items, err: err, calls: &n}
}

func (h *harness) build(src config.Source, _ collector.Options) (collector.Fetcher, error) {
	h.built = append(h.built, src.Name)
	f, ok := h.fetchers[src.Name]
	if !ok {
		return nil, collector.ErrUnknownSourceType
	}
	return f, nil
}

func testConfig(t *testing.T, sources ...config.Source) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Settings.DataDir = t.TempDir()
	cfg.Settings.RequestDelay = 0
	cfg.Sources = sources
	return &cfg
}

func TestCollectAllSkipsDisabledAndFailingSources(t *testing.T) {
	h := newHarness()
	h.add("A", []collector.Article{item("A", "a1", "2025-01-01")}, nil)
	h.add("Broken", nil, errors.New("connection refused"))
	h.add("Off", []collector.Article{item("Off", "o1", "2025-01-01")}, nil)
	h.add("B", []collector.Article{item("B", "b1", "2025-01-02"), item("B", "b2", "")}, nil)

	cfg := testConfig(t,
		config.Source{Name: "A", Type: config.TypeFeed, URL: "x"},
		config.Source{Name: "Broken", Type: config.TypeFeed, URL: "x"},
		config.Source{Name: "Off", Type: config.TypeFeed, URL: "x", Enabled: disabled()},
		config.Source{Name: "Ghost", Type: "graphql", URL: "x"},
		config.Source{Name: "B", Type: config.TypeFeed, URL: "x"},
	)
	s := New(cfg, storage.NewStore(cfg.Settings.DataDir, 10, nil), logger.Discard(), WithBuilder(h.build))

	got, failed := s.CollectAll(context.Background(), cfg.Sources)
	if len(got) != 3 {
		t.Fatalf("got %d articles, want 3", len(got))
	}
	// 按配置顺序
	if got[0].URL != "a1" || got[1].URL != "b1" || got[2].URL != "b2" {
		t.Fatalf("unexpected order: %v %v %v", got[0].URL, got[1].URL, got[2].URL)
	}
	if *h.calls["Off"] != 0 {
		t.Fatalf("disabled source must not be queried")
	}
	for _, name := range h.built {
		if name == "Off" {
			t.Fatalf("disabled source must not even be built")
		}
	}
	if len(failed) != 2 || failed[0] != "Broken" || failed[1] != "Ghost" {
		t.Fatalf("failed = %v, want [Broken Ghost]", failed)
	}
}

func TestRunOncePersistsEverything(t *testing.T) {
	h := newHarness()
	h.add("Source A", []collector.Article{
		item("Source A", "https://a/1", "2025-01-01"),
		item("Source A", "https://a/3", "2025-01-03"),
		item("Source A", "https://a/2", "2025-01-02"),
	}, nil)
	h.add("Source B", []collector.Article{
		item("Source B", "https://b/4", "2025-01-04"),
		item("Source B", "https://a/1", "2025-01-01"), // 跨源重复 URL
	}, nil)

	cfg := testConfig(t,
		config.Source{Name: "Source A", Type: config.TypeFeed, URL: "x"},
		config.Source{Name: "Source B", Type: config.TypeFeed, URL: "x"},
	)
	cfg.Settings.MaxArticlesPerSource = 2
	cfg.Settings.OutputFile = filepath.Join(t.TempDir(), "news.json")
	root := t.TempDir()
	cfg.Settings.PublishDir = filepath.Join(root, "docs", "data")

	store := storage.NewStore(cfg.Settings.DataDir, 10, nil)
	mirror := &fakeMirror{}
	cache := &fakeCache{}
	s := New(cfg, store, logger.Discard(), WithBuilder(h.build), WithMirror(mirror), WithCache(cache))

	report, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if report.Collected != 5 || report.Saved != 3 {
		t.Fatalf("report = %+v, want collected=5 saved=3", report)
	}

	index, err := store.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	var order []string
	for _, a := range index.PreviewArticles {
		order = append(order, a.URL)
	}
	want := []string{"https://b/4", "https://a/3", "https://a/2"}
	if len(order) != len(want) {
		t.Fatalf("preview = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("preview = %v, want %v", order, want)
		}
	}

	if len(mirror.got) != 3 {
		t.Fatalf("mirror got %d articles, want 3", len(mirror.got))
	}
	if cache.invalidated != 1 {
		t.Fatalf("cache invalidated %d times, want 1", cache.invalidated)
	}
	if _, err := os.Stat(cfg.Settings.OutputFile); err != nil {
		t.Fatalf("legacy export not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Settings.PublishDir, "index.json")); err != nil {
		t.Fatalf("publish dir not written: %v", err)
	}
}

func TestRunOnceReturnsStorageErrors(t *testing.T) {
	h := newHarness()
	h.add("Lab A", []collector.Article{item("Lab A", "https://x/1", "2025-01-01")}, nil)
	h.add("Lab-A", []collector.Article{item("Lab-A", "https://x/2", "2025-01-02")}, nil)

	cfg := testConfig(t,
		config.Source{Name: "Lab A", Type: config.TypeFeed, URL: "x"},
		config.Source{Name: "Lab-A", Type: config.TypeFeed, URL: "x"},
	)
	cache := &fakeCache{}
	s := New(cfg, storage.NewStore(cfg.Settings.DataDir, 10, nil), logger.Discard(), WithBuilder(h.build), WithCache(cache))

	if _, err := s.RunOnce(context.Background()); !errors.Is(err, storage.ErrSlugCollision) {
		t.Fatalf("expected ErrSlugCollision, got %v", err)
	}
	if cache.invalidated != 0 {
		t.Fatalf("cache must not be invalidated after a failed run")
	}
}

func TestRunScheduledSkipsWhileRunning(t *testing.T) {
	h := newHarness()
	cfg := testConfig(t)
	s := New(cfg, storage.NewStore(cfg.Settings.DataDir, 10, nil), logger.Discard(), WithBuilder(h.build))

	s.mu.Lock()
	done := make(chan struct{})
	go func() {
		s.runScheduled()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("runScheduled should return immediately while a run holds the lock")
	}
	s.mu.Unlock()

	if _, err := os.Stat(filepath.Join(cfg.Settings.DataDir, "index.json")); !os.IsNotExist(err) {
		t.Fatalf("skipped run must not write output, stat err = %v", err)
	}
}

func TestStartRejectsBadCronSpec(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.CronSpec = "not a cron"
	s := New(cfg, storage.NewStore(cfg.Settings.DataDir, 10, nil), logger.Discard())
	if err := s.Start(); err == nil {
		t.Fatalf("expected error for invalid cron spec")
	}
}

func TestTriggerRunsInBackground(t *testing.T) {
	h := newHarness()
	h.add("A", []collector.Article{item("A", "https://a/1", "2025-01-01")}, nil)
	cfg := testConfig(t, config.Source{Name: "A", Type: config.TypeFeed, URL: "x"})
	store := storage.NewStore(cfg.Settings.DataDir, 10, nil)
	s := New(cfg, store, logger.Discard(), WithBuilder(h.build))

	s.mu.Lock()
	if s.Trigger() {
		t.Fatalf("Trigger must refuse while another run holds the lock")
	}
	s.mu.Unlock()

	if !s.Trigger() {
		t.Fatalf("Trigger should start a run when idle")
	}
	// RunOnce 会等待后台那一轮结束
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if *h.calls["A"] != 2 {
		t.Fatalf("source fetched %d times, want 2", *h.calls["A"])
	}
}

func TestFetchOneQueriesSingleSource(t *testing.T) {
	h := newHarness()
	h.add("A", []collector.Article{item("A", "https://a/1", "2025-01-01")}, nil)
	h.add("Off", []collector.Article{item("Off", "https://o/1", "")}, nil)
	cfg := testConfig(t,
		config.Source{Name: "A", Type: config.TypeFeed, URL: "x"},
		config.Source{Name: "Off", Type: config.TypeFeed, URL: "x", Enabled: disabled()},
	)
	s := New(cfg, storage.NewStore(cfg.Settings.DataDir, 10, nil), logger.Discard(), WithBuilder(h.build))

	got, err := s.FetchOne(context.Background(), "Off")
	if err != nil {
		t.Fatalf("FetchOne: %v", err)
	}
	if len(got) != 1 || *h.calls["A"] != 0 {
		t.Fatalf("FetchOne should only query the named source, got %d articles", len(got))
	}
	if _, err := s.FetchOne(context.Background(), "Nope"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Settings.DataDir, "index.json")); !os.IsNotExist(err) {
		t.Fatalf("FetchOne must not write output")
	}
}
