package collector

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	cardTitleSelector   = "[class*='title'], h1, h2, h3, h4"
	cardSummarySelector = "[class*='introduce'], [class*='summary'], [class*='desc'], [class*='excerpt'], p"
	cardDateSelector    = "[class*='date'], [class*='time'], time"

	headingSelector  = "h2, h3, h4"
	maxSectionLinks  = 10
	minHeadingTitle  = 10
	sectionHeadingRe = `(?i)\b(latest|new|recent|updates?)\b`
)

// cardsParser 链接本身就是一张卡片，标题 / 摘要 / 日期分别在子元素里
type cardsParser struct {
	link *regexp.Regexp
}

func (p *cardsParser) parse(root *goquery.Selection, base *url.URL, log *slog.Logger) []RawArticle {
	return eachItem(matchingLinks(root, p.link), log, func(a *goquery.Selection) (RawArticle, error) {
		href, _ := a.Attr("href")
		titleSel := a.Find(cardTitleSelector).First()
		if titleSel.Length() == 0 {
			return RawArticle{}, errSkipItem
		}
		title := collapseSpace(titleSel.Text())
		if title == "" {
			return RawArticle{}, errSkipItem
		}

		summary := ""
		a.Find(cardSummarySelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			// 标题元素本身也可能命中摘要选择器
			if s.IsSelection(titleSel) {
				return true
			}
			summary = collapseSpace(s.Text())
			return summary == ""
		})

		u, err := resolveURL(base, href)
		if err != nil {
			return RawArticle{}, err
		}
		return RawArticle{Title: title, URL: u, Date: elementDate(a.Find(cardDateSelector).First()), Summary: summary}, nil
	})
}

// headingsParser 标题在链接内的 h2-h4 里（没有就用链接文字），日期取所在卡片的 <time>。
// sections 非空时额外扫一遍标题命中 "Latest / New / Recent / Updates" 的区块。
type headingsParser struct {
	link     *regexp.Regexp
	sections *regexp.Regexp
}

func newHeadingsParser(link *regexp.Regexp) *headingsParser {
	return &headingsParser{link: link, sections: regexp.MustCompile(sectionHeadingRe)}
}

func (p *headingsParser) parse(root *goquery.Selection, base *url.URL, log *slog.Logger) []RawArticle {
	out := eachItem(matchingLinks(root, p.link), log, func(a *goquery.Selection) (RawArticle, error) {
		href, _ := a.Attr("href")
		title := ""
		if h := a.Find(headingSelector).First(); h.Length() > 0 {
			title = collapseSpace(h.Text())
		}
		if title == "" {
			title = collapseSpace(a.Text())
		}
		if runeLen(title) < minHeadingTitle {
			return RawArticle{}, errSkipItem
		}

		u, err := resolveURL(base, href)
		if err != nil {
			return RawArticle{}, err
		}

		summary := ""
		if alt, ok := a.Find("img[alt]").First().Attr("alt"); ok {
			summary = collapseSpace(alt)
		}

		card := a.Parent().Closest("article, div")
		return RawArticle{
			Title:   title,
			URL:     u,
			Date:    elementDate(card.Find("time").First()),
			Summary: summary,
		}, nil
	})

	if p.sections == nil {
		return out
	}
	root.Find("h2, h3").FilterFunction(func(_ int, h *goquery.Selection) bool {
		return p.sections.MatchString(h.Text())
	}).Each(func(_ int, h *goquery.Selection) {
		container := h.Parent().Closest("section, div")
		n := 0
		container.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			n++
			title := collapseSpace(a.Text())
			if runeLen(title) < minHeadingTitle {
				return n < maxSectionLinks
			}
			href, _ := a.Attr("href")
			u, err := resolveURL(base, href)
			if err != nil {
				return n < maxSectionLinks
			}
			out = append(out, RawArticle{Title: title, URL: u})
			return n < maxSectionLinks
		})
	})
	return out
}

// elementDate 优先 datetime 属性，其次元素文字
func elementDate(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	if dt, ok := sel.Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
		if d := NormalizeDate(dt); d != "" {
			return d
		}
	}
	return NormalizeDate(collapseSpace(sel.Text()))
}
