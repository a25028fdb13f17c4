package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html"
)

// pageParser 从页面 DOM 中提取候选条目，单条失败自行跳过
type pageParser interface {
	parse(root *goquery.Selection, base *url.URL, log *slog.Logger) []RawArticle
}

// PageConfig 页面类数据源的构造参数
type PageConfig struct {
	Name    string
	URL     string
	BaseURL string
	// Render 为 true 时用 headless Chrome 渲染后再解析
	Render       bool
	WaitSelector string
	// Categories 解析器没有给出分类时使用的默认分类
	Categories []string
	Limit      int
}

// PageFetcher 没有订阅源的站点：抓 HTML 后按 DOM 启发式规则恢复文章列表
type PageFetcher struct {
	cfg    PageConfig
	base   *url.URL
	parser pageParser
	opts   Options
}

func newPageFetcher(cfg PageConfig, parser pageParser, opts Options) (*PageFetcher, error) {
	baseRaw := cfg.BaseURL
	if baseRaw == "" {
		baseRaw = cfg.URL
	}
	base, err := url.Parse(baseRaw)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseRaw, err)
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	return &PageFetcher{cfg: cfg, base: base, parser: parser, opts: opts}, nil
}

func (p *PageFetcher) Name() string {
	return p.cfg.Name
}

func (p *PageFetcher) Fetch(ctx context.Context) ([]Article, error) {
	// 每次 Fetch 一次礼貌等待，出错返回时同样生效
	defer p.opts.wait(ctx)

	log := p.opts.logger().With("source", p.cfg.Name)
	log.Info("fetch page", "url", p.cfg.URL, "render", p.cfg.Render)

	var (
		root *goquery.Selection
		err  error
	)
	if p.cfg.Render {
		root, err = p.opts.loadRendered(ctx, p.cfg.URL, p.cfg.WaitSelector)
	} else {
		root, err = p.opts.loadPage(p.cfg.URL)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(root.Text()) == "" {
		log.Warn("empty page")
		return []Article{}, nil
	}

	raws := p.parser.parse(root, p.base, log)

	now := p.opts.now()
	seen := make(map[string]struct{}, len(raws))
	articles := make([]Article, 0, len(raws))
	for _, raw := range raws {
		if raw.URL != "" {
			if _, ok := seen[raw.URL]; ok {
				continue
			}
			seen[raw.URL] = struct{}{}
		}
		if len(raw.Categories) == 0 {
			raw.Categories = append([]string(nil), p.cfg.Categories...)
		}
		articles = append(articles, Normalize(raw, p.cfg.Name, now))
	}

	// 启发式解析噪声较多，只保留前 N 条
	if len(articles) > p.cfg.Limit {
		articles = articles[:p.cfg.Limit]
	}

	log.Info("found articles", "count", len(articles), "candidates", len(raws))
	return articles, nil
}

// loadPage 用 colly 抓取页面，返回 <html> 节点
func (o Options) loadPage(target string) (*goquery.Selection, error) {
	c := colly.NewCollector(
		colly.UserAgent(o.userAgent()),
	)
	c.SetRequestTimeout(o.timeout())
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHTML)
		r.Headers.Set("Accept-Language", acceptLanguage)
	})

	var root *goquery.Selection
	c.OnHTML("html", func(e *colly.HTMLElement) {
		if root == nil {
			root = e.DOM
		}
	})

	if err := c.Visit(target); err != nil {
		return nil, fmt.Errorf("visit %s: %w", target, err)
	}
	if root == nil {
		return nil, fmt.Errorf("visit %s: response is not an html document", target)
	}
	return root, nil
}

// ---------- DOM 辅助函数 ----------

// linkMatcher 空 pattern 匹配所有链接
func linkMatcher(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return regexp.MustCompile(`.`), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile link pattern %q: %w", pattern, err)
	}
	return re, nil
}

// matchingLinks 选出 href 命中 pattern 的 <a>
func matchingLinks(sel *goquery.Selection, link *regexp.Regexp) *goquery.Selection {
	return sel.Find("a[href]").FilterFunction(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		return link.MatchString(strings.TrimSpace(href))
	})
}

// resolveURL 把相对链接补全为绝对地址
func resolveURL(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("empty href: %w", errSkipItem)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// textSegments 按文本节点切分可见文字，相当于以分隔符拼接后再拆开
func textSegments(sel *goquery.Selection) []string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := collapseSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" || n.Data == "noscript" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return parts
}

// eachItem 逐个解析候选节点；errSkipItem 静默跳过，其它错误记 debug 日志后跳过
func eachItem(sel *goquery.Selection, log *slog.Logger, parse func(*goquery.Selection) (RawArticle, error)) []RawArticle {
	out := make([]RawArticle, 0, sel.Length())
	sel.Each(func(i int, s *goquery.Selection) {
		raw, err := parse(s)
		if err != nil {
			if !errors.Is(err, errSkipItem) {
				log.Debug("skip page item", "index", i, "error", err)
			}
			return
		}
		out = append(out, raw)
	})
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}
