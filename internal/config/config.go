package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 配置校验错误
var (
	ErrNoSources          = errors.New("at least one source is required")
	ErrSourceMissingName  = errors.New("source name is required")
	ErrSourceMissingURL   = errors.New("source url is required")
	ErrDuplicateSource    = errors.New("source names must be unique")
	ErrInvalidDelay       = errors.New("settings.request_delay must be non-negative")
	ErrInvalidTimeout     = errors.New("settings.request_timeout must be positive")
	ErrInvalidMaxArticles = errors.New("settings.max_articles_per_source must be non-negative")
	ErrInvalidPreview     = errors.New("settings.preview_count must be positive")
	ErrMissingDataDir     = errors.New("settings.data_dir is required")
)

// 数据源类型
const (
	TypeFeed    = "feed"
	TypePage    = "page"
	TypeAPI     = "api"
	TypeSitemap = "sitemap"
)

// Config 一次运行内只读的完整配置
type Config struct {
	Settings    Settings `yaml:"settings"`
	Server      Server   `yaml:"server"`
	PostgresDSN string   `yaml:"postgres_dsn"`
	Sources     []Source `yaml:"sources"`
}

type Settings struct {
	UserAgent string `yaml:"user_agent"`
	// RequestDelay / RequestTimeout 单位为秒，允许小数（如 1.5）
	RequestDelay         float64 `yaml:"request_delay"`
	RequestTimeout       float64 `yaml:"request_timeout"`
	MaxArticlesPerSource int     `yaml:"max_articles_per_source"`
	PreviewCount         int     `yaml:"preview_count"`
	// OutputFile 旧版单文件导出路径，为空则不导出
	OutputFile string `yaml:"output_file"`
	DataDir    string `yaml:"data_dir"`
	// PublishDir 为空则不做发布镜像
	PublishDir string `yaml:"publish_dir"`
	AssetsDir  string `yaml:"assets_dir"`
	LogLevel   string `yaml:"log_level"`
}

type Server struct {
	Port      string `yaml:"port"`
	RedisAddr string `yaml:"redis_addr"`
	// CacheTTL 秒
	CacheTTL int    `yaml:"cache_ttl"`
	CronSpec string `yaml:"cron_spec"`
	WebRoot  string `yaml:"web_root"`
	// 配置了用户名和密码时整个站点启用 Basic Auth（/health 除外）
	BasicAuthUser string `yaml:"basic_auth_user"`
	BasicAuthPass string `yaml:"basic_auth_pass"`
}

// Source 对应配置中的一个数据源条目
type Source struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	URL     string `yaml:"url"`
	Enabled *bool  `yaml:"enabled"`
	// Scraper 页面类数据源使用的解析器标签（segments / datewalk / ...）
	Scraper string `yaml:"scraper"`
	// Render 为 true 时使用 headless 浏览器渲染页面
	Render bool `yaml:"render"`
	// Delay 单源覆盖全局 request_delay（例如 robots.txt 要求 10 秒）
	Delay   *float64      `yaml:"delay"`
	Options SourceOptions `yaml:"options"`
}

type SourceOptions struct {
	BaseURL         string   `yaml:"base_url"`
	LinkPattern     string   `yaml:"link_pattern"`
	PathPrefix      string   `yaml:"path_prefix"`
	Categories      []string `yaml:"categories"`
	KnownCategories []string `yaml:"known_categories"`
	Keywords        []string `yaml:"keywords"`
	// Brand 以该前缀开头的短句不视为分类（segments 解析器）
	Brand        string   `yaml:"brand"`
	Locales      []string `yaml:"locales"`
	PageSize     int      `yaml:"page_size"`
	MaxPages     int      `yaml:"max_pages"`
	Limit        int      `yaml:"limit"`
	WaitSelector string   `yaml:"wait_selector"`
	// DetailURL 文章详情页地址模板，%s 替换为条目 ID（api 类型）
	DetailURL string `yaml:"detail_url"`
	// CategoryCodes 接口分类代码到分类名的映射（api 类型）
	CategoryCodes map[string]string `yaml:"category_codes"`
}

// IsEnabled 未显式配置 enabled 时默认启用
func (s Source) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Defaults 返回带默认值的配置
func Defaults() Config {
	return Config{
		Settings: Settings{
			UserAgent:      "Mozilla/5.0 (compatible; AINewsHubBot/1.0)",
			RequestDelay:   1.5,
			RequestTimeout: 30,
			PreviewCount:   10,
			DataDir:        "data",
			LogLevel:       "info",
		},
		Server: Server{
			Port:      "9000",
			RedisAddr: "",
			CacheTTL:  300,
			CronSpec:  "0 */6 * * *",
		},
	}
}

// Load 读取 YAML 配置文件，环境变量优先级高于文件
func Load(path string) (*Config, error) {
	path = getEnv("NEWSHUB_CONFIG", path)

	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Settings.DataDir = getEnv("DATA_DIR", c.Settings.DataDir)
	c.Settings.LogLevel = getEnv("LOG_LEVEL", c.Settings.LogLevel)
	c.Server.Port = getEnv("APP_PORT", c.Server.Port)
	c.Server.RedisAddr = getEnv("REDIS_ADDR", c.Server.RedisAddr)
	c.Server.CronSpec = getEnv("CRON_SPEC", c.Server.CronSpec)
	c.Server.BasicAuthUser = getEnv("APP_BASIC_USER", c.Server.BasicAuthUser)
	c.Server.BasicAuthPass = getEnv("APP_BASIC_PASS", c.Server.BasicAuthPass)
	c.PostgresDSN = getEnv("POSTGRES_DSN", c.PostgresDSN)
	if v := os.Getenv("MAX_ARTICLES_PER_SOURCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Settings.MaxArticlesPerSource = n
		}
	}
}

// Validate 只校验结构性错误；未知的 type / scraper 留给采集阶段按 warning 处理
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return ErrNoSources
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, s := range c.Sources {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("sources[%d]: %w", i, ErrSourceMissingName)
		}
		if strings.TrimSpace(s.URL) == "" {
			return fmt.Errorf("source %q: %w", s.Name, ErrSourceMissingURL)
		}
		if _, ok := seen[s.Name]; ok {
			return fmt.Errorf("source %q: %w", s.Name, ErrDuplicateSource)
		}
		seen[s.Name] = struct{}{}
		if s.Delay != nil && *s.Delay < 0 {
			return fmt.Errorf("source %q: %w", s.Name, ErrInvalidDelay)
		}
	}
	if c.Settings.RequestDelay < 0 {
		return ErrInvalidDelay
	}
	if c.Settings.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Settings.MaxArticlesPerSource < 0 {
		return ErrInvalidMaxArticles
	}
	if c.Settings.PreviewCount <= 0 {
		return ErrInvalidPreview
	}
	if strings.TrimSpace(c.Settings.DataDir) == "" {
		return ErrMissingDataDir
	}
	return nil
}

// DelayFor 返回某个数据源实际使用的礼貌等待时长
func (c *Config) DelayFor(s Source) time.Duration {
	if s.Delay != nil {
		return seconds(*s.Delay)
	}
	return seconds(c.Settings.RequestDelay)
}

// Timeout 单个 adapter 的网络超时
func (c *Config) Timeout() time.Duration {
	return seconds(c.Settings.RequestTimeout)
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Server.CacheTTL) * time.Second
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
