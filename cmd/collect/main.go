package main

import (
	"context"
	"flag"
	"os"

	"github.com/LJTian/AINewsHub/internal/config"
	"github.com/LJTian/AINewsHub/internal/logger"
	"github.com/LJTian/AINewsHub/internal/scheduler"
	"github.com/LJTian/AINewsHub/internal/storage"
)

// 一个仅执行一次采集任务的命令行入口：适合手动触发或由外部定时任务调用
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

	var opts []scheduler.Option
	if cfg.PostgresDSN != "" {
		mirror, err := storage.OpenMirror(cfg.PostgresDSN, log)
		if err != nil {
			log.Error("init mirror failed", "error", err)
			os.Exit(1)
		}
		opts = append(opts, scheduler.WithMirror(mirror))
	}

	s := scheduler.New(cfg, store, log, opts...)

	// 只执行一轮采集任务后退出
	report, err := s.RunOnce(context.Background())
	if err != nil {
		log.Error("collect job failed", "error", err)
		os.Exit(1)
	}
	if len(report.Failed) > 0 {
		log.Warn("some sources failed", "sources", report.Failed)
	}
}
