package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/LJTian/AINewsHub/internal/collector"
	"github.com/LJTian/AINewsHub/internal/config"
	"github.com/LJTian/AINewsHub/internal/logger"
	"github.com/LJTian/AINewsHub/internal/scheduler"
	"github.com/LJTian/AINewsHub/internal/storage"
)

// 调试工具：抓取单个数据源并把解析结果以 JSON 打印到 stdout，不写任何文件。
// 例：go run ./cmd/fetchone -source "Meta AI" -render
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	name := flag.String("source", "", "source name to fetch")
	render := flag.Bool("render", false, "load page sources through headless chrome")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	log := logger.New("debug")
	if *name == "" {
		fmt.Fprintf(os.Stderr, "usage: fetchone -source NAME [-config FILE] [-render]\nscrapers: %v\n", collector.Scrapers())
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load config failed", "error", err)
		os.Exit(1)
	}
	if *render {
		for i := range cfg.Sources {
			if cfg.Sources[i].Name == *name {
				cfg.Sources[i].Render = true
			}
		}
	}

	s := scheduler.New(cfg, storage.NewStore(cfg.Settings.DataDir, cfg.Settings.PreviewCount, log), log)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	items, err := s.FetchOne(ctx, *name)
	if err != nil {
		log.Error("fetch source failed", "source", *name, "error", err)
		os.Exit(1)
	}

	dated := 0
	for _, a := range items {
		if a.HasDate() {
			dated++
		}
	}
	log.Info("fetch source done",
		"source", *name,
		"articles", len(items),
		"date_extraction_rate", storage.DateExtractionRate(dated, len(items)),
		"elapsed", time.Since(start).Round(time.Millisecond))

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		log.Error("encode output failed", "error", err)
		os.Exit(1)
	}
}
