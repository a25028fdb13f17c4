package collector

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/LJTian/AINewsHub/internal/config"
)

var (
	ErrUnknownSourceType = errors.New("unknown source type")
	ErrUnknownVariant    = errors.New("unknown scraper variant")
)

// pageParserFactory 页面解析器工厂签名：link 为已编译的链接过滤规则
type pageParserFactory func(src config.Source, link *regexp.Regexp) pageParser

// pageParsers 页面解析器注册表（显式、零反射），key 对应配置中的 scraper
var pageParsers = map[string]pageParserFactory{
	// segments: 链接文本分段 + 已知分类
	"segments": func(src config.Source, link *regexp.Regexp) pageParser {
		return newSegmentsParser(link, src.Options.KnownCategories, src.Options.Brand)
	},
	// datewalk: 日期节点向上回溯
	"datewalk": func(_ config.Source, link *regexp.Regexp) pageParser {
		return &dateWalkParser{link: link, depth: 10, minTitle: 15}
	},
	// linkdate: 链接文字内嵌 "DD Month YYYY"
	"linkdate": func(_ config.Source, link *regexp.Regexp) pageParser {
		return &linkDateParser{link: link}
	},
	// urlcode: URL 末尾编码日期
	"urlcode": func(_ config.Source, link *regexp.Regexp) pageParser {
		return &urlCodeParser{link: link}
	},
	// cards: 卡片式列表
	"cards": func(_ config.Source, link *regexp.Regexp) pageParser {
		return &cardsParser{link: link}
	},
	// headings: 标题在 h2-h4 中，日期在卡片 <time>
	"headings": func(_ config.Source, link *regexp.Regexp) pageParser {
		return newHeadingsParser(link)
	},
}

// Scrapers 已注册的页面解析器名称（排序后）
func Scrapers() []string {
	names := make([]string, 0, len(pageParsers))
	for name := range pageParsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build 按数据源配置构造 Fetcher；未知 type / scraper 返回配置错误
func Build(src config.Source, opts Options) (Fetcher, error) {
	o := src.Options
	switch src.Type {
	case config.TypeFeed:
		return NewFeedFetcher(src.Name, src.URL, o.Keywords, opts), nil

	case config.TypePage:
		factory, ok := pageParsers[src.Scraper]
		if !ok {
			return nil, fmt.Errorf("source %q scraper %q: %w", src.Name, src.Scraper, ErrUnknownVariant)
		}
		link, err := linkMatcher(o.LinkPattern)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", src.Name, err)
		}
		f, err := newPageFetcher(PageConfig{
			Name:         src.Name,
			URL:          src.URL,
			BaseURL:      o.BaseURL,
			Render:       src.Render,
			WaitSelector: o.WaitSelector,
			Categories:   o.Categories,
			Limit:        o.Limit,
		}, factory(src, link), opts)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", src.Name, err)
		}
		return f, nil

	case config.TypeAPI:
		return NewAPIFetcher(APIConfig{
			Name:          src.Name,
			URL:           src.URL,
			DetailURL:     o.DetailURL,
			Locales:       o.Locales,
			PageSize:      o.PageSize,
			MaxPages:      o.MaxPages,
			Limit:         o.Limit,
			CategoryCodes: o.CategoryCodes,
		}, opts), nil

	case config.TypeSitemap:
		return NewSitemapFetcher(SitemapConfig{
			Name:       src.Name,
			URL:        src.URL,
			PathPrefix: o.PathPrefix,
			Categories: o.Categories,
			Limit:      o.Limit,
		}, opts), nil
	}
	return nil, fmt.Errorf("source %q type %q: %w", src.Name, src.Type, ErrUnknownSourceType)
}
