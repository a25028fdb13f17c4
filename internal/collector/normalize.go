package collector

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

const maxSummaryRunes = 500

var (
	// StrictPolicy 去掉全部标签，script/style 的内容一并丢弃
	stripPolicy = bluemonday.StrictPolicy()
	spaceRe     = regexp.MustCompile(`\s+`)

	// 摘要末尾常见的 RSS 残留文案
	boilerplateRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\s*read article\s*$`),
		regexp.MustCompile(`(?i)\s*read more\s*$`),
		regexp.MustCompile(`(?i)\s*continue reading\s*$`),
		regexp.MustCompile(`(?i)the post .* appeared first on .*\.?$`),
	}
)

// Normalize 把原始条目映射为规范化 Article：清理 HTML、补齐空字段、打上采集时间
func Normalize(raw RawArticle, source string, now time.Time) Article {
	categories := make([]string, 0, len(raw.Categories))
	for _, c := range raw.Categories {
		if c = CleanText(c); c != "" {
			categories = append(categories, c)
		}
	}

	return Article{
		Source:      source,
		Title:       CleanText(raw.Title),
		URL:         strings.TrimSpace(raw.URL),
		Date:        strings.TrimSpace(raw.Date),
		Summary:     TruncateRunes(StripHTML(raw.Summary), maxSummaryRunes),
		Author:      CleanText(raw.Author),
		Categories:  categories,
		CollectedAt: now.Format(TimestampLayout),
	}
}

// StripHTML 去标签、解码实体、去掉末尾残留文案并压缩空白
func StripHTML(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	// 标签前补空格，避免相邻块级元素的文本粘在一起
	s = stripPolicy.Sanitize(strings.ReplaceAll(s, "<", " <"))
	s = html.UnescapeString(s)
	for _, re := range boilerplateRes {
		s = re.ReplaceAllString(s, "")
	}
	return collapseSpace(s)
}

// CleanText 用于标题、作者等短字段：解码实体并压缩空白
func CleanText(s string) string {
	return collapseSpace(html.UnescapeString(s))
}

// TruncateRunes 按 rune 截断，超长时保留 limit-3 个字符并追加 "..."
func TruncateRunes(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	if limit <= 3 {
		return string(rs[:limit])
	}
	return string(rs[:limit-3]) + "..."
}

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
