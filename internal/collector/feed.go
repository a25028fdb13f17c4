package collector

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// FeedFetcher 通过 RSS / Atom 订阅源抓取文章
type FeedFetcher struct {
	name string
	url  string
	// keywords 非空时只保留命中关键词（或 AI 分类）的条目
	keywords *regexp.Regexp
	opts     Options
}

// NewFeedFetcher keywords 为空表示不过滤
func NewFeedFetcher(name, feedURL string, keywords []string, opts Options) *FeedFetcher {
	return &FeedFetcher{name: name, url: feedURL, keywords: keywordMatcher(keywords), opts: opts}
}

func (f *FeedFetcher) Name() string {
	return f.name
}

func (f *FeedFetcher) Fetch(ctx context.Context) ([]Article, error) {
	// 每次 Fetch 一次礼貌等待，出错返回时同样生效
	defer f.opts.wait(ctx)

	log := f.opts.logger().With("source", f.name)
	log.Info("fetch feed", "url", f.url)

	body, err := f.opts.get(ctx, f.url, acceptHTML)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		log.Warn("empty feed body")
		return []Article{}, nil
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		// 文档被截断等致命错误：截到最后一个完整条目再解析一次
		recovered, ok := salvageFeed(body)
		if !ok {
			return nil, fmt.Errorf("parse feed %s: %w", f.url, err)
		}
		parseErr := err
		feed, err = gofeed.NewParser().Parse(bytes.NewReader(recovered))
		if err != nil {
			return nil, fmt.Errorf("parse feed %s: %w", f.url, parseErr)
		}
		log.Warn("malformed feed, keep complete entries", "entries", len(feed.Items), "error", parseErr)
	}

	now := f.opts.now()
	articles := make([]Article, 0, len(feed.Items))
	skipped := 0
	for i, item := range feed.Items {
		raw, err := convertFeedItem(item)
		if err != nil {
			skipped++
			log.Debug("skip feed entry", "index", i, "error", err)
			continue
		}
		a := Normalize(raw, f.name, now)
		if f.keywords != nil && !f.related(a) {
			continue
		}
		articles = append(articles, a)
	}

	log.Info("found articles", "count", len(articles), "entries", len(feed.Items), "skipped", skipped)
	return articles, nil
}

// convertFeedItem 日期取 published，缺失时用 updated；作者取单作者或多作者拼接
func convertFeedItem(item *gofeed.Item) (RawArticle, error) {
	if item == nil {
		return RawArticle{}, errSkipItem
	}
	if strings.TrimSpace(item.Title) == "" && strings.TrimSpace(item.Link) == "" {
		return RawArticle{}, fmt.Errorf("entry has neither title nor link: %w", errSkipItem)
	}

	date := ""
	if item.PublishedParsed != nil {
		date = feedDate(*item.PublishedParsed)
	} else if item.UpdatedParsed != nil {
		date = feedDate(*item.UpdatedParsed)
	}

	author := ""
	if item.Author != nil && strings.TrimSpace(item.Author.Name) != "" {
		author = item.Author.Name
	} else if len(item.Authors) > 0 {
		names := make([]string, 0, len(item.Authors))
		for _, a := range item.Authors {
			if a != nil && strings.TrimSpace(a.Name) != "" {
				names = append(names, a.Name)
			}
		}
		author = strings.Join(names, ", ")
	}

	summary := item.Description
	if strings.TrimSpace(summary) == "" {
		summary = item.Content
	}

	return RawArticle{
		Title:      item.Title,
		URL:        item.Link,
		Date:       date,
		Summary:    summary,
		Author:     author,
		Categories: append([]string(nil), item.Categories...),
	}, nil
}

// salvageFeed 在最后一个完整的 </item> 或 </entry> 处截断并补齐外层闭合标签
func salvageFeed(body []byte) ([]byte, bool) {
	var tail string
	end := bytes.LastIndex(body, []byte("</item>"))
	switch {
	case end >= 0:
		end += len("</item>")
		tail = "</channel></rss>"
		// RSS 1.0 的 item 与 channel 同级
		if bytes.Contains(body[:end], []byte("<rdf:RDF")) {
			tail = "</rdf:RDF>"
		}
	default:
		end = bytes.LastIndex(body, []byte("</entry>"))
		if end < 0 {
			return nil, false
		}
		end += len("</entry>")
		tail = "</feed>"
	}
	out := make([]byte, 0, end+len(tail))
	out = append(out, body[:end]...)
	return append(out, tail...), true
}

func feedDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// related 分类里显式带 AI 时直接保留，否则在标题 + 摘要中按词边界匹配关键词
func (f *FeedFetcher) related(a Article) bool {
	for _, c := range a.Categories {
		switch strings.ToLower(c) {
		case "ai", "artificial intelligence":
			return true
		}
	}
	return f.keywords.MatchString(a.Title + " " + a.Summary)
}

func keywordMatcher(keywords []string) *regexp.Regexp {
	parts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			parts = append(parts, regexp.QuoteMeta(k))
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(parts, "|") + `)\b`)
}
