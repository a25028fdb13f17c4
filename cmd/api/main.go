package main

import (
	"flag"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/AINewsHub/internal/api"
	"github.com/LJTian/AINewsHub/internal/config"
	"github.com/LJTian/AINewsHub/internal/logger"
	"github.com/LJTian/AINewsHub/internal/scheduler"
	"github.com/LJTian/AINewsHub/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New("info").Error("load config failed", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Settings.LogLevel)

	store := storage.NewStore(cfg.Settings.DataDir, cfg.Settings.PreviewCount, log)

	var (
		schedOpts []scheduler.Option
		apiOpts   []api.Option
	)

	// Redis 不可用时降级为无缓存，直接读文件
	if cfg.Server.RedisAddr != "" {
		cache, err := storage.DialCache(cfg.Server.RedisAddr, cfg.CacheTTL())
		if err != nil {
			log.Warn("redis unavailable, serving without cache", "error", err)
		} else {
			defer cache.Close()
			schedOpts = append(schedOpts, scheduler.WithCache(cache))
			apiOpts = append(apiOpts, api.WithCache(cache))
		}
	}

	if cfg.PostgresDSN != "" {
		mirror, err := storage.OpenMirror(cfg.PostgresDSN, log)
		if err != nil {
			log.Error("init mirror failed", "error", err)
			os.Exit(1)
		}
		schedOpts = append(schedOpts, scheduler.WithMirror(mirror))
		apiOpts = append(apiOpts, api.WithMirror(mirror))
	}

	s := scheduler.New(cfg, store, log, schedOpts...)
	if err := s.Start(); err != nil {
		log.Error("init scheduler failed", "error", err)
		os.Exit(1)
	}
	defer s.Stop()
	apiOpts = append(apiOpts, api.WithRunner(s))

	r := gin.Default()
	// 若配置了全局访问密码，则启用 Basic Auth 保护（/health 仍然免认证）
	if cfg.Server.BasicAuthUser != "" && cfg.Server.BasicAuthPass != "" {
		r.Use(api.BasicAuth(cfg.Server.BasicAuthUser, cfg.Server.BasicAuthPass))
	}

	api.NewServer(store, log, apiOpts...).RegisterRoutes(r)
	api.RegisterStatic(r, cfg.Server.WebRoot, cfg.Settings.DataDir)

	addr := ":" + cfg.Server.Port
	log.Info("starting api server", "addr", addr)
	if err := r.Run(addr); err != nil {
		log.Error("server exit", "error", err)
		os.Exit(1)
	}
}
