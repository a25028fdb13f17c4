package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/AINewsHub/internal/logger"
	"github.com/LJTian/AINewsHub/internal/storage"
)

// ArticleLister 数据库镜像的查询接口
type ArticleLister interface {
	List(ctx context.Context, source, date string, limit int) ([]storage.ArticleRecord, error)
}

// Runner 手动触发一轮采集；已有任务在跑时返回 false
type Runner interface {
	Trigger() bool
}

type Server struct {
	store  *storage.Store
	cache  *storage.Cache
	mirror ArticleLister
	runner Runner
	log    *slog.Logger
}

type Option func(*Server)

func WithCache(c *storage.Cache) Option {
	return func(s *Server) { s.cache = c }
}

func WithMirror(m ArticleLister) Option {
	return func(s *Server) { s.mirror = m }
}

func WithRunner(r Runner) Option {
	return func(s *Server) { s.runner = r }
}

func NewServer(store *storage.Store, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{store: store, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/index", s.getIndex)
		v1.GET("/stats", s.getStats)
		v1.GET("/sources", s.listSources)
		v1.GET("/sources/:slug", s.getSource)
		if s.mirror != nil {
			v1.GET("/articles", s.listArticles)
		}
		if s.runner != nil {
			v1.POST("/collect", s.triggerCollect)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getIndex(c *gin.Context) {
	s.cached(c, "index", func() (any, error) {
		return s.store.LoadIndex()
	})
}

func (s *Server) getStats(c *gin.Context) {
	s.cached(c, "stats", func() (any, error) {
		return s.store.LoadStats()
	})
}

func (s *Server) listSources(c *gin.Context) {
	s.cached(c, "sources", func() (any, error) {
		index, err := s.store.LoadIndex()
		if err != nil {
			return nil, err
		}
		return index.Sources, nil
	})
}

func (s *Server) getSource(c *gin.Context) {
	slug := c.Param("slug")
	if slug == "" || strings.Contains(slug, "..") {
		notFound(c, "source not found")
		return
	}

	key := "source:" + slug
	if s.cache != nil {
		var raw json.RawMessage
		if s.cache.Get(c.Request.Context(), key, &raw) {
			ok(c, raw)
			return
		}
	}

	shard, err := s.store.LoadShard(slug)
	if err != nil {
		s.internalError(c, err)
		return
	}
	// 分片文件不存在
	if shard.Source == "" {
		notFound(c, "source not found")
		return
	}
	s.remember(c, key, shard)
	ok(c, shard)
}

func (s *Server) listArticles(c *gin.Context) {
	source := c.Query("source")
	date := c.Query("date")

	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 20
	}

	items, err := s.mirror.List(c.Request.Context(), source, date, limit)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if items == nil {
		items = []storage.ArticleRecord{}
	}
	ok(c, items)
}

func (s *Server) triggerCollect(c *gin.Context) {
	if !s.runner.Trigger() {
		c.JSON(http.StatusConflict, gin.H{
			"code":    "busy",
			"message": "collect job already running",
		})
		return
	}
	s.log.Info("collect job triggered", "client", c.ClientIP())
	c.JSON(http.StatusAccepted, gin.H{
		"code":    "ok",
		"message": "collect job started",
	})
}

// cached 先查 Redis，未命中时调用 load 并回填
func (s *Server) cached(c *gin.Context, key string, load func() (any, error)) {
	if s.cache != nil {
		var raw json.RawMessage
		if s.cache.Get(c.Request.Context(), key, &raw) {
			ok(c, raw)
			return
		}
	}
	data, err := load()
	if err != nil {
		s.internalError(c, err)
		return
	}
	s.remember(c, key, data)
	ok(c, data)
}

func (s *Server) remember(c *gin.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(c.Request.Context(), key, v); err != nil {
		s.log.Warn("write cache failed", "key", key, "error", err)
	}
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.log.Error("handle request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "internal_error",
		"message": "internal server error",
	})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{
		"code":    "not_found",
		"message": msg,
	})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    data,
	})
}
