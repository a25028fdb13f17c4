package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/LJTian/AINewsHub/internal/collector"
	"github.com/LJTian/AINewsHub/internal/config"
	"github.com/LJTian/AINewsHub/internal/processor"
	"github.com/LJTian/AINewsHub/internal/storage"
)

// ErrUnknownSource FetchOne 指定的数据源不在配置中
var ErrUnknownSource = errors.New("source not configured")

// 延迟执行首轮采集，避免与服务启动后的首批请求争抢资源
const startupDelay = 15 * time.Second

// BuildFunc 按数据源配置构造 Fetcher，测试可替换
type BuildFunc func(src config.Source, opts collector.Options) (collector.Fetcher, error)

// Mirror 可选的数据库镜像
type Mirror interface {
	Replace(ctx context.Context, articles []collector.Article) error
}

// Invalidator 采集完成后需要失效的读缓存
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Report 单轮采集的结果摘要
type Report struct {
	Collected int
	Saved     int
	Sources   int
	Failed    []string
	Duration  time.Duration
}

type Scheduler struct {
	cfg       *config.Config
	build     BuildFunc
	processor *processor.Processor
	store     *storage.Store
	mirror    Mirror
	cache     Invalidator
	log       *slog.Logger
	now       func() time.Time

	cron *cron.Cron
	// mu 保证同一时刻只有一轮采集
	mu sync.Mutex
}

type Option func(*Scheduler)

func WithMirror(m Mirror) Option {
	return func(s *Scheduler) { s.mirror = m }
}

func WithCache(c Invalidator) Option {
	return func(s *Scheduler) { s.cache = c }
}

func WithBuilder(b BuildFunc) Option {
	return func(s *Scheduler) { s.build = b }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(cfg *config.Config, store *storage.Store, log *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		build:     collector.Build,
		processor: processor.NewProcessor(cfg.Settings.MaxArticlesPerSource),
		store:     store,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CollectAll 按配置顺序逐个抓取；任何单源失败只记录日志并贡献 0 条
func (s *Scheduler) CollectAll(ctx context.Context, sources []config.Source) ([]collector.Article, []string) {
	var (
		all    []collector.Article
		failed []string
	)
	for _, src := range sources {
		log := s.log.With("source", src.Name, "type", src.Type)
		if !src.IsEnabled() {
			log.Info("source disabled, skip")
			continue
		}

		f, err := s.build(src, s.fetchOptions(src))
		if err != nil {
			if errors.Is(err, collector.ErrUnknownSourceType) || errors.Is(err, collector.ErrUnknownVariant) {
				log.Warn("invalid source configuration", "scraper", src.Scraper, "known_scrapers", collector.Scrapers(), "error", err)
			} else {
				log.Error("build fetcher failed", "error", err)
			}
			failed = append(failed, src.Name)
			continue
		}

		start := s.now()
		items, err := f.Fetch(ctx)
		if err != nil {
			log.Error("fetch failed", "error", err)
			failed = append(failed, src.Name)
			continue
		}
		if len(items) == 0 {
			log.Warn("fetch got 0 articles")
		}
		log.Info("fetch done", "articles", len(items), "elapsed", s.now().Sub(start).Round(time.Millisecond))
		all = append(all, items...)
	}
	return all, failed
}

// FetchOne 只抓取一个数据源，不做处理与持久化，用于调试解析规则。
// 已禁用的数据源同样可以探测。
func (s *Scheduler) FetchOne(ctx context.Context, name string) ([]collector.Article, error) {
	for _, src := range s.cfg.Sources {
		if src.Name != name {
			continue
		}
		f, err := s.build(src, s.fetchOptions(src))
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", name, err)
		}
		return f.Fetch(ctx)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
}

func (s *Scheduler) fetchOptions(src config.Source) collector.Options {
	return collector.Options{
		UserAgent: s.cfg.Settings.UserAgent,
		Delay:     s.cfg.DelayFor(src),
		Timeout:   s.cfg.Timeout(),
		Logger:    s.log,
		Now:       s.now,
	}
}

// RunOnce 采集 -> 处理 -> 持久化；存储错误原样返回
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) (Report, error) {
	start := s.now()
	s.log.Info("start collect job", "sources", len(s.cfg.Sources))

	collected, failed := s.CollectAll(ctx, s.cfg.Sources)
	articles := s.processor.Process(collected)
	report := Report{
		Collected: len(collected),
		Saved:     len(articles),
		Sources:   len(s.cfg.Sources),
		Failed:    failed,
	}

	if err := s.store.Save(articles); err != nil {
		return report, fmt.Errorf("save articles: %w", err)
	}
	if path := s.cfg.Settings.OutputFile; path != "" {
		if err := s.store.SaveLegacy(path, articles); err != nil {
			return report, err
		}
	}
	if s.mirror != nil {
		if err := s.mirror.Replace(ctx, articles); err != nil {
			return report, fmt.Errorf("mirror articles: %w", err)
		}
	}
	if dest := s.cfg.Settings.PublishDir; dest != "" {
		if err := s.store.Publish(dest, s.cfg.Settings.AssetsDir); err != nil {
			return report, err
		}
	}
	if s.cache != nil {
		// 缓存失效失败不影响本轮结果，TTL 到期后自然刷新
		if err := s.cache.Invalidate(ctx); err != nil {
			s.log.Warn("invalidate cache failed", "error", err)
		}
	}

	report.Duration = s.now().Sub(start)
	s.log.Info("collect job done",
		"collected", report.Collected,
		"saved", report.Saved,
		"failed_sources", len(report.Failed),
		"elapsed", report.Duration.Round(time.Millisecond))
	return report, nil
}

// runScheduled 定时触发：上一轮还没结束时直接跳过
func (s *Scheduler) runScheduled() {
	if !s.mu.TryLock() {
		s.log.Warn("previous collect job still running, skip")
		return
	}
	defer s.mu.Unlock()
	if _, err := s.run(context.Background()); err != nil {
		s.log.Error("collect job failed", "error", err)
	}
}

// Trigger 异步触发一轮采集；已有任务在跑时返回 false
func (s *Scheduler) Trigger() bool {
	if !s.mu.TryLock() {
		return false
	}
	go func() {
		defer s.mu.Unlock()
		if _, err := s.run(context.Background()); err != nil {
			s.log.Error("collect job failed", "error", err)
		}
	}()
	return true
}

// Start 按 cron_spec 周期采集，并在启动后延迟执行首轮
func (s *Scheduler) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Server.CronSpec, s.runScheduled); err != nil {
		return fmt.Errorf("add cron job %q: %w", s.cfg.Server.CronSpec, err)
	}
	s.cron = c
	c.Start()
	s.log.Info("scheduler started", "cron", s.cfg.Server.CronSpec)

	time.AfterFunc(startupDelay, s.runScheduled)
	return nil
}

// Stop 停止定时任务，返回的 ctx 在正在执行的任务结束后关闭
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}
