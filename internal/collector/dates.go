package collector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const monthNames = `(Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)`

var (
	// "Nov 24, 2025" / "November 24, 2025" / "Oct 28th，2024"
	monthDayYearRe = regexp.MustCompile(`\b` + monthNames + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?\s*[,，]?\s*(\d{4})\b`)
	// "30 October 2025"，年份后可能紧跟标题文字
	dayMonthYearRe = regexp.MustCompile(`\b(\d{1,2})\s+` + monthNames + `\s+(\d{4})`)
	isoPrefixRe    = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// ParseMonthDayYear 从文本中找到第一个 "Mon DD, YYYY" 形式的日期
func ParseMonthDayYear(text string) string {
	m := monthDayYearRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return formatDate(m[3], monthOf(m[1]), m[2])
}

// ParseDayMonthYear 从文本中找到第一个 "DD Month YYYY" 形式的日期
func ParseDayMonthYear(text string) string {
	m := dayMonthYearRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return formatDate(m[3], monthOf(m[2]), m[1])
}

// ParseDateCode 解析 URL 中编码的日期：YYYYMMDD、YYMMDD（按 20xx）、MMDD（按 2024 年）
func ParseDateCode(code string) string {
	switch len(code) {
	case 8:
		return formatDate(code[:4], monthNum(code[4:6]), code[6:8])
	case 6:
		return formatDate("20"+code[:2], monthNum(code[2:4]), code[4:6])
	case 4:
		return formatDate("2024", monthNum(code[:2]), code[2:4])
	}
	return ""
}

// ParseCompactDate 解析 YYYYMMDD
func ParseCompactDate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) != 8 {
		return ""
	}
	return ParseDateCode(s)
}

// NormalizeDate 把任意常见日期写法规范为 YYYY-MM-DD，无法识别时返回空串
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if m := isoPrefixRe.FindStringSubmatch(s); m != nil {
		return formatDate(m[1], monthNum(m[2]), m[3])
	}
	if d := ParseMonthDayYear(s); d != "" {
		return d
	}
	if d := ParseDayMonthYear(s); d != "" {
		return d
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return ""
	}
	return t.Format(DateLayout)
}

func monthOf(name string) time.Month {
	if len(name) < 3 {
		return 0
	}
	return months[strings.ToLower(name[:3])]
}

func monthNum(s string) time.Month {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return time.Month(n)
}

// formatDate 校验年月日组合是否真实存在（例如拒绝 2025-02-30）
func formatDate(year string, month time.Month, day string) string {
	y, err := strconv.Atoi(year)
	if err != nil || month < time.January || month > time.December {
		return ""
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 {
		return ""
	}
	t := time.Date(y, month, d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || t.Month() != month {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, int(month), d)
}
