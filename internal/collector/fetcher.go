package collector

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/LJTian/AINewsHub/internal/logger"
)

const (
	// DateLayout 规范化后的文章日期格式
	DateLayout = "2006-01-02"
	// TimestampLayout collected_at 的格式，前端按空格切出日期部分
	TimestampLayout = "2006-01-02 15:04:05"

	defaultTimeout = 30 * time.Second
	defaultLimit   = 30

	acceptHTML     = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptJSON     = "application/json"
	acceptLanguage = "en-US,en;q=0.5"
)

// errSkipItem 表示候选条目不是文章（过短、无链接等），静默跳过
var errSkipItem = errors.New("not an article")

// Article 统一的规范化文章结构，所有字段都会输出，不存在缺省字段
type Article struct {
	Source      string   `json:"source"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Date        string   `json:"date"`
	Summary     string   `json:"summary"`
	Author      string   `json:"author"`
	Categories  []string `json:"categories"`
	CollectedAt string   `json:"collected_at"`
}

// HasDate 日期为合法的 YYYY-MM-DD 才算真实日期
func (a Article) HasDate() bool {
	_, err := time.Parse(DateLayout, a.Date)
	return err == nil
}

// SortTime 排序用时间：优先 date，无效时退回 collected_at，都无效则为零值（排最后）
func (a Article) SortTime() time.Time {
	if t, err := time.Parse(DateLayout, a.Date); err == nil {
		return t
	}
	if t, err := time.Parse(TimestampLayout, a.CollectedAt); err == nil {
		return t
	}
	return time.Time{}
}

// RawArticle 各数据源解析出的原始条目，进入 Normalize 前的形态
type RawArticle struct {
	Title      string
	URL        string
	Date       string
	Summary    string
	Author     string
	Categories []string
}

// Fetcher 抽象每一个数据源。
// 单条解析失败在内部跳过；整源失败（网络、非 2xx、文档无法解析）以 error 返回，
// 由调用方记录日志并按 0 条处理。
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]Article, error)
}

// Options 所有 adapter 共享的抓取参数
type Options struct {
	UserAgent string
	// Delay 每次 Fetch 结束时的一次礼貌等待
	Delay   time.Duration
	Timeout time.Duration
	Logger  *slog.Logger
	// Client 为空时按 Timeout 新建，测试可注入
	Client *http.Client
	Now    func() time.Time
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return logger.Discard()
	}
	return o.Logger
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return defaultTimeout
	}
	return o.Timeout
}

func (o Options) userAgent() string {
	if strings.TrimSpace(o.UserAgent) == "" {
		return "Mozilla/5.0 (compatible; AINewsHubBot/1.0)"
	}
	return o.UserAgent
}

func (o Options) httpClient() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return &http.Client{Timeout: o.timeout()}
}

// wait 礼貌等待，ctx 取消时提前返回
func (o Options) wait(ctx context.Context) {
	if o.Delay <= 0 {
		return
	}
	t := time.NewTimer(o.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
