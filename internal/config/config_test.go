package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
settings:
  user_agent: "TestBot/1.0"
  request_delay: 0.5
  max_articles_per_source: 20
  output_file: data/news.json
sources:
  - name: OpenAI
    type: feed
    url: https://openai.com/news/rss.xml
  - name: Anthropic
    type: page
    scraper: segments
    url: https://www.anthropic.com/news
    options:
      base_url: https://www.anthropic.com
      link_pattern: '^/news/[a-z0-9-]+$'
  - name: Amazon Science
    type: feed
    url: https://www.amazon.science/index.rss
    delay: 10
    enabled: false
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestGetEnvWithDefault(t *testing.T) {
	const key = "TEST_NEWSHUB_PORT"

	// 环境变量未设置时，应该返回默认值
	t.Setenv(key, "")
	if got := getEnv(key, "9000"); got != "9000" {
		t.Fatalf("getEnv(%q) = %q, want %q", key, got, "9000")
	}

	// 环境变量设置后，应优先返回环境变量
	t.Setenv(key, "8080")
	if got := getEnv(key, "9000"); got != "8080" {
		t.Fatalf("getEnv(%q) = %q, want %q", key, got, "8080")
	}
}

func TestLoadAppliesDefaultsAndFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Settings.UserAgent != "TestBot/1.0" {
		t.Fatalf("UserAgent = %q", cfg.Settings.UserAgent)
	}
	// 文件未写的字段保留默认值
	if cfg.Settings.PreviewCount != 10 || cfg.Settings.DataDir != "data" {
		t.Fatalf("defaults not kept: %+v", cfg.Settings)
	}
	if len(cfg.Sources) != 3 {
		t.Fatalf("len(Sources) = %d, want 3", len(cfg.Sources))
	}
	if !cfg.Sources[0].IsEnabled() {
		t.Fatalf("source without enabled flag should default to enabled")
	}
	if cfg.Sources[2].IsEnabled() {
		t.Fatalf("Amazon Science should be disabled")
	}
	if got := cfg.DelayFor(cfg.Sources[0]); got != 500*time.Millisecond {
		t.Fatalf("DelayFor(OpenAI) = %v, want 500ms", got)
	}
	if got := cfg.DelayFor(cfg.Sources[2]); got != 10*time.Second {
		t.Fatalf("DelayFor(Amazon) = %v, want 10s", got)
	}
	if cfg.Sources[1].Options.LinkPattern != "^/news/[a-z0-9-]+$" {
		t.Fatalf("LinkPattern = %q", cfg.Sources[1].Options.LinkPattern)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/newshub")
	t.Setenv("APP_PORT", "1234")
	t.Setenv("MAX_ARTICLES_PER_SOURCE", "5")
	t.Setenv("APP_BASIC_USER", "admin")
	t.Setenv("APP_BASIC_PASS", "secret")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Settings.DataDir != "/tmp/newshub" {
		t.Fatalf("DataDir = %q", cfg.Settings.DataDir)
	}
	if cfg.Server.Port != "1234" {
		t.Fatalf("Port = %q", cfg.Server.Port)
	}
	if cfg.Settings.MaxArticlesPerSource != 5 {
		t.Fatalf("MaxArticlesPerSource = %d", cfg.Settings.MaxArticlesPerSource)
	}
	if cfg.Server.BasicAuthUser != "admin" || cfg.Server.BasicAuthPass != "secret" {
		t.Fatalf("basic auth = %q/%q", cfg.Server.BasicAuthUser, cfg.Server.BasicAuthPass)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	neg := -1.0
	cases := []struct {
		name string
		edit func(*Config)
		want error
	}{
		{"no sources", func(c *Config) { c.Sources = nil }, ErrNoSources},
		{"missing name", func(c *Config) { c.Sources[0].Name = " " }, ErrSourceMissingName},
		{"missing url", func(c *Config) { c.Sources[0].URL = "" }, ErrSourceMissingURL},
		{"duplicate", func(c *Config) { c.Sources = append(c.Sources, c.Sources[0]) }, ErrDuplicateSource},
		{"negative source delay", func(c *Config) { c.Sources[0].Delay = &neg }, ErrInvalidDelay},
		{"negative delay", func(c *Config) { c.Settings.RequestDelay = -1 }, ErrInvalidDelay},
		{"zero timeout", func(c *Config) { c.Settings.RequestTimeout = 0 }, ErrInvalidTimeout},
		{"negative cap", func(c *Config) { c.Settings.MaxArticlesPerSource = -2 }, ErrInvalidMaxArticles},
		{"zero preview", func(c *Config) { c.Settings.PreviewCount = 0 }, ErrInvalidPreview},
		{"no data dir", func(c *Config) { c.Settings.DataDir = "" }, ErrMissingDataDir},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Sources = []Source{{Name: "OpenAI", Type: TypeFeed, URL: "https://openai.com/news/rss.xml"}}
			tc.edit(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestValidateAcceptsUnknownType(t *testing.T) {
	// 未知类型不是配置错误，由采集阶段记录 warning 并跳过
	cfg := Defaults()
	cfg.Sources = []Source{{Name: "X", Type: "ftp", URL: "ftp://example.com"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}
