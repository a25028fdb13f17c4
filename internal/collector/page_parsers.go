package collector

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ---------- segments：链接内文本分段 + 分类词表 ----------

// segmentsParser 链接内的文本按节点切段，识别出日期后，
// 剩余片段按位置和已知分类词表归类为 分类 / 标题 / 摘要
type segmentsParser struct {
	link  *regexp.Regexp
	known map[string]struct{}
	// brand 以品牌名开头的短句通常是标题而不是分类
	brand string
}

func newSegmentsParser(link *regexp.Regexp, known []string, brand string) *segmentsParser {
	set := make(map[string]struct{}, len(known))
	for _, k := range known {
		set[k] = struct{}{}
	}
	return &segmentsParser{link: link, known: set, brand: brand}
}

func (p *segmentsParser) parse(root *goquery.Selection, base *url.URL, log *slog.Logger) []RawArticle {
	return eachItem(matchingLinks(root, p.link), log, func(a *goquery.Selection) (RawArticle, error) {
		href, _ := a.Attr("href")
		parts := textSegments(a)
		if len(parts) == 0 {
			return RawArticle{}, errSkipItem
		}

		date := ""
		rest := make([]string, 0, len(parts))
		for _, part := range parts {
			if monthDayYearRe.MatchString(part) {
				if date == "" {
					date = ParseMonthDayYear(part)
				}
				continue
			}
			rest = append(rest, part)
		}

		var title, category, summary string
		switch {
		case len(rest) >= 2:
			if p.isCategory(rest[0]) {
				category, title = rest[0], rest[1]
				if len(rest) > 2 {
					summary = rest[2]
				}
			} else {
				title = rest[0]
				if p.isKnown(rest[1]) {
					category = rest[1]
					if len(rest) > 2 {
						summary = rest[2]
					}
				} else {
					summary = rest[1]
				}
			}
		case len(rest) == 1:
			title = rest[0]
		}

		if runeLen(title) < 10 {
			return RawArticle{}, errSkipItem
		}
		u, err := resolveURL(base, href)
		if err != nil {
			return RawArticle{}, err
		}

		raw := RawArticle{Title: title, URL: u, Date: date, Summary: summary}
		if category != "" {
			raw.Categories = []string{category}
		}
		return raw, nil
	})
}

func (p *segmentsParser) isKnown(s string) bool {
	_, ok := p.known[s]
	return ok
}

// isCategory 已知分类，或首字母大写的短词组（排除 "Introducing ..." 与品牌开头的标题）
func (p *segmentsParser) isCategory(s string) bool {
	if p.isKnown(s) {
		return true
	}
	if runeLen(s) >= 25 || strings.HasPrefix(s, "Introducing") {
		return false
	}
	if p.brand != "" && strings.HasPrefix(s, p.brand) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}

// ---------- datewalk：从日期文本节点向上找容器 ----------

// dateWalkParser 先定位日期文本节点，再向上最多 depth 层寻找包含目标链接的容器，
// 容器内第一段足够长的文字作为标题
type dateWalkParser struct {
	link     *regexp.Regexp
	depth    int
	minTitle int
}

func (p *dateWalkParser) parse(root *goquery.Selection, base *url.URL, log *slog.Logger) []RawArticle {
	var out []RawArticle
	for i, n := range dateTextNodes(root) {
		raw, err := p.fromDateNode(n, base)
		if err != nil {
			if !errors.Is(err, errSkipItem) {
				log.Debug("skip page item", "index", i, "error", err)
			}
			continue
		}
		out = append(out, raw)
	}
	return out
}

func (p *dateWalkParser) fromDateNode(n *html.Node, base *url.URL) (RawArticle, error) {
	date := ParseMonthDayYear(n.Data)
	container := n.Parent
	for i := 0; i < p.depth; i++ {
		if container == nil || (container.Type == html.ElementNode && container.Data == "body") {
			break
		}
		container = container.Parent
		if container == nil {
			break
		}

		sel := goquery.NewDocumentFromNode(container).Selection
		link := matchingLinks(sel, p.link).First()
		if link.Length() == 0 {
			continue
		}

		href, _ := link.Attr("href")
		u, err := resolveURL(base, href)
		if err != nil {
			return RawArticle{}, err
		}
		title := ""
		for _, part := range textSegments(sel) {
			if runeLen(part) > 20 && !p.noise(part) {
				title = part
				break
			}
		}
		if runeLen(title) <= p.minTitle {
			return RawArticle{}, errSkipItem
		}
		return RawArticle{Title: title, URL: u, Date: date}, nil
	}
	return RawArticle{}, errSkipItem
}

func (p *dateWalkParser) noise(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(strings.ToUpper(s), "FEATURED") ||
		monthDayYearRe.MatchString(s) ||
		strings.Contains(s, "→") ||
		strings.HasPrefix(lower, "learn more") ||
		strings.HasPrefix(lower, "read more")
}

// dateTextNodes 收集文本内容包含 "Month DD, YYYY" 的文本节点（文档顺序）
func dateTextNodes(root *goquery.Selection) []*html.Node {
	var nodes []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode && monthDayYearRe.MatchString(n.Data) {
			nodes = append(nodes, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range root.Nodes {
		walk(n)
	}
	return nodes
}

// ---------- linkdate：日期嵌在链接文字里 ----------

// linkDateParser 链接文字形如 "30 October 2025Some Title"，去掉日期剩下的即标题
type linkDateParser struct {
	link *regexp.Regexp
}

func (p *linkDateParser) parse(root *goquery.Selection, base *url.URL, log *slog.Logger) []RawArticle {
	return eachItem(matchingLinks(root, p.link), log, func(a *goquery.Selection) (RawArticle, error) {
		href, _ := a.Attr("href")
		text := strings.Join(textSegments(a), " ")
		if strings.Contains(strings.ToLower(text), "learn more") || runeLen(text) < 15 {
			return RawArticle{}, errSkipItem
		}

		title := text
		date := ParseDayMonthYear(text)
		if date != "" {
			title = collapseSpace(dayMonthYearRe.ReplaceAllString(text, ""))
		}
		if runeLen(title) < 10 {
			return RawArticle{}, errSkipItem
		}

		u, err := resolveURL(base, href)
		if err != nil {
			return RawArticle{}, err
		}
		return RawArticle{Title: title, URL: u, Date: date}, nil
	})
}

// ---------- urlcode：日期编码在 URL 中 ----------

var trailingCodeRe = regexp.MustCompile(`(\d{4,8})/?$`)

// urlCodeParser 适用于 /news/news250929 这类把日期写进路径末尾的站点
type urlCodeParser struct {
	link *regexp.Regexp
}

func (p *urlCodeParser) parse(root *goquery.Selection, base *url.URL, log *slog.Logger) []RawArticle {
	return eachItem(matchingLinks(root, p.link), log, func(a *goquery.Selection) (RawArticle, error) {
		href, _ := a.Attr("href")
		title := collapseSpace(a.Text())
		// 导航里的 "News" 之类通用链接
		if title == "News" || runeLen(title) < 5 {
			return RawArticle{}, errSkipItem
		}

		u, err := resolveURL(base, href)
		if err != nil {
			return RawArticle{}, err
		}
		parsed, err := url.Parse(u)
		if err != nil {
			return RawArticle{}, fmt.Errorf("parse resolved url %q: %w", u, err)
		}

		date := ""
		if m := trailingCodeRe.FindStringSubmatch(parsed.Path); m != nil {
			date = ParseDateCode(m[1])
		}
		return RawArticle{Title: title, URL: u, Date: date}, nil
	})
}
