package collector

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"
)

var (
	utf8BOM = []byte{0xEF, 0xBB, 0xBF}

	versionTokenRe = regexp.MustCompile(`^[vr]\d+(?:\.\d+)*$`)
	yearTokenRe    = regexp.MustCompile(`^\d{4}$`)

	acronymTokens = map[string]struct{}{
		"ai": {}, "vs": {}, "llm": {}, "llms": {}, "api": {}, "moe": {}, "rl": {}, "gpu": {},
	}
	brandTokens = map[string]string{
		"deepseek": "DeepSeek",
		"openai":   "OpenAI",
		"llama":    "LLaMA",
		"github":   "GitHub",
	}
)

// SitemapConfig 站点地图类数据源参数
type SitemapConfig struct {
	Name string
	URL  string
	// PathPrefix 只保留 loc 中包含该路径的条目，例如 "/blog/"
	PathPrefix string
	Categories []string
	Limit      int
}

// SitemapFetcher 没有列表页和订阅源的站点，只能从 sitemap.xml 推出文章列表
type SitemapFetcher struct {
	cfg  SitemapConfig
	opts Options
}

func NewSitemapFetcher(cfg SitemapConfig, opts Options) *SitemapFetcher {
	return &SitemapFetcher{cfg: cfg, opts: opts}
}

func (f *SitemapFetcher) Name() string {
	return f.cfg.Name
}

func (f *SitemapFetcher) Fetch(ctx context.Context) ([]Article, error) {
	// 每次 Fetch 一次礼貌等待，出错返回时同样生效
	defer f.opts.wait(ctx)

	log := f.opts.logger().With("source", f.cfg.Name)
	log.Info("fetch sitemap", "url", f.cfg.URL)

	c := colly.NewCollector(
		colly.UserAgent(f.opts.userAgent()),
	)
	c.SetRequestTimeout(f.opts.timeout())
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHTML)
		r.Headers.Set("Accept-Language", acceptLanguage)
	})
	// 部分站点的 sitemap 带 BOM 或前导空白，XML 解析前先去掉。
	// colly 只对 xml/html 类型触发 OnXML，text/plain 等错误类型统一按 XML 处理
	c.OnResponse(func(r *colly.Response) {
		r.Body = bytes.TrimLeft(bytes.TrimPrefix(r.Body, utf8BOM), " \t\r\n")
		r.Headers.Set("Content-Type", "application/xml")
	})

	var raws []RawArticle
	seen := make(map[string]struct{})
	c.OnXML("//urlset/url", func(e *colly.XMLElement) {
		loc := strings.TrimSpace(e.ChildText("loc"))
		if loc == "" {
			return
		}
		idx := strings.LastIndex(loc, f.cfg.PathPrefix)
		if f.cfg.PathPrefix == "" || idx < 0 {
			return
		}
		slug := strings.Trim(loc[idx+len(f.cfg.PathPrefix):], "/")
		if slug == "" {
			return
		}
		if _, ok := seen[loc]; ok {
			return
		}
		seen[loc] = struct{}{}

		raws = append(raws, RawArticle{
			Title:      SlugToTitle(slug),
			URL:        loc,
			Date:       NormalizeDate(e.ChildText("lastmod")),
			Categories: append([]string(nil), f.cfg.Categories...),
		})
	})

	if err := c.Visit(f.cfg.URL); err != nil {
		return nil, fmt.Errorf("visit %s: %w", f.cfg.URL, err)
	}

	now := f.opts.now()
	articles := make([]Article, 0, len(raws))
	for _, raw := range raws {
		articles = append(articles, Normalize(raw, f.cfg.Name, now))
	}
	if f.cfg.Limit > 0 && len(articles) > f.cfg.Limit {
		articles = articles[:f.cfg.Limit]
	}

	log.Info("found articles", "count", len(articles))
	return articles, nil
}

// SlugToTitle "deepseek-v31-release-2025" -> "DeepSeek V31 Release 2025"
func SlugToTitle(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool {
		return r == '-' || r == '_' || r == '/'
	})
	for i, w := range words {
		lower := strings.ToLower(w)
		if brand, ok := brandTokens[lower]; ok {
			words[i] = brand
			continue
		}
		if _, ok := acronymTokens[lower]; ok || versionTokenRe.MatchString(lower) {
			words[i] = strings.ToUpper(w)
			continue
		}
		if yearTokenRe.MatchString(w) {
			continue
		}
		words[i] = capitalize(lower)
	}
	return strings.Join(words, " ")
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
