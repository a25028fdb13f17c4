package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	defaultPageSize   = 30
	maxAPICategories  = 5
	maxAPISummaryRune = 300
	apiStatusOK       = 200
)

// localeMarkers 非英文语种额外追加的分类标记
var localeMarkers = map[string]string{
	"KR": "Korean",
}

// APIConfig JSON 列表接口类数据源的参数
type APIConfig struct {
	Name string
	// URL 列表接口地址
	URL string
	// DetailURL 详情页模板，%s 为条目 seq；为空时在 URL 上追加 ?seq=
	DetailURL     string
	Locales       []string
	PageSize      int
	MaxPages      int
	Limit         int
	CategoryCodes map[string]string
}

// APIFetcher 站点前端调用的分页 JSON 接口，比解析渲染后的页面稳定
type APIFetcher struct {
	cfg  APIConfig
	opts Options
}

func NewAPIFetcher(cfg APIConfig, opts Options) *APIFetcher {
	if len(cfg.Locales) == 0 {
		cfg.Locales = []string{"EN", "KR"}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	return &APIFetcher{cfg: cfg, opts: opts}
}

func (f *APIFetcher) Name() string {
	return f.cfg.Name
}

type apiListResponse struct {
	Status int `json:"status"`
	Data   struct {
		List []json.RawMessage `json:"list"`
	} `json:"data"`
}

type apiItem struct {
	Seq      json.Number `json:"seq"`
	Title    string      `json:"ttl"`
	ExpsYmd  string      `json:"expsYmd"`
	RgstYmd  string      `json:"rgstYmd"`
	CatgCd   string      `json:"catgCd"`
	Cont     string      `json:"cont"`
	BlogTags []struct {
		Tag string `json:"tag"`
	} `json:"blogTags"`
}

// apiEntry 带着去重键的候选条目
type apiEntry struct {
	seq string
	raw RawArticle
}

func (f *APIFetcher) Fetch(ctx context.Context) ([]Article, error) {
	// 每次 Fetch 一次礼貌等待，出错返回时同样生效
	defer f.opts.wait(ctx)

	log := f.opts.logger().With("source", f.cfg.Name)
	log.Info("fetch api", "url", f.cfg.URL, "locales", f.cfg.Locales)

	var (
		entries []apiEntry
		errs    []error
	)
	for _, locale := range f.cfg.Locales {
		got, err := f.fetchLocale(ctx, locale)
		if err != nil {
			log.Warn("fetch locale failed", "locale", locale, "error", err)
			errs = append(errs, err)
			continue
		}
		log.Debug("fetched locale", "locale", locale, "count", len(got))
		entries = append(entries, got...)
	}
	if len(errs) == len(f.cfg.Locales) {
		return nil, fmt.Errorf("fetch %s: all locales failed: %w", f.cfg.URL, errors.Join(errs...))
	}

	// 先按 seq 去重（英文优先），再拼详情页 URL
	now := f.opts.now()
	seen := make(map[string]struct{}, len(entries))
	articles := make([]Article, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.seq]; ok {
			continue
		}
		seen[e.seq] = struct{}{}
		e.raw.URL = f.detailURL(e.seq)
		a := Normalize(e.raw, f.cfg.Name, now)
		// 正文很长，摘要只取清理后的前 300 个字符
		if rs := []rune(a.Summary); len(rs) > maxAPISummaryRune {
			a.Summary = string(rs[:maxAPISummaryRune])
		}
		articles = append(articles, a)
	}

	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].Date > articles[j].Date
	})
	if len(articles) > f.cfg.Limit {
		articles = articles[:f.cfg.Limit]
	}

	log.Info("found articles", "count", len(articles))
	return articles, nil
}

// fetchLocale 逐页请求，某页不足 pageSize 即视为最后一页
func (f *APIFetcher) fetchLocale(ctx context.Context, locale string) ([]apiEntry, error) {
	today := f.opts.now().Format("20060102")
	var entries []apiEntry
	for page := 1; page <= f.cfg.MaxPages; page++ {
		q := url.Values{}
		q.Set("pg", strconv.Itoa(page))
		q.Set("pgSz", strconv.Itoa(f.cfg.PageSize))
		q.Set("schExpsYn", "Y")
		q.Set("schLangTp", locale)
		q.Set("schExpsYmd", today)

		target, err := withQuery(f.cfg.URL, q)
		if err != nil {
			return nil, err
		}
		body, err := f.opts.get(ctx, target, acceptJSON)
		if err != nil {
			return nil, err
		}

		var resp apiListResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode %s: %w", target, err)
		}
		if resp.Status != apiStatusOK {
			return nil, fmt.Errorf("api %s returned status %d", target, resp.Status)
		}

		for i, msg := range resp.Data.List {
			e, err := f.parseItem(msg, locale)
			if err != nil {
				if !errors.Is(err, errSkipItem) {
					f.opts.logger().Debug("skip api item", "source", f.cfg.Name, "locale", locale, "page", page, "index", i, "error", err)
				}
				continue
			}
			entries = append(entries, e)
		}
		if len(resp.Data.List) < f.cfg.PageSize {
			break
		}
	}
	return entries, nil
}

func (f *APIFetcher) parseItem(msg json.RawMessage, locale string) (apiEntry, error) {
	var item apiItem
	if err := json.Unmarshal(msg, &item); err != nil {
		return apiEntry{}, fmt.Errorf("decode item: %w", err)
	}
	seq := strings.TrimSpace(item.Seq.String())
	title := strings.TrimSpace(item.Title)
	if seq == "" || seq == "0" || title == "" {
		return apiEntry{}, errSkipItem
	}

	date := ParseCompactDate(item.ExpsYmd)
	if date == "" {
		date = ParseCompactDate(item.RgstYmd)
	}

	var categories []string
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" {
			return
		}
		for _, existing := range categories {
			if existing == c {
				return
			}
		}
		categories = append(categories, c)
	}
	if name, ok := f.cfg.CategoryCodes[item.CatgCd]; ok {
		add(name)
	}
	for _, t := range item.BlogTags {
		add(t.Tag)
	}
	if marker, ok := localeMarkers[locale]; ok {
		add(marker)
	}
	if len(categories) > maxAPICategories {
		categories = categories[:maxAPICategories]
	}

	return apiEntry{
		seq: seq,
		raw: RawArticle{
			Title:      title,
			Date:       date,
			Summary:    item.Cont,
			Categories: categories,
		},
	}, nil
}

func (f *APIFetcher) detailURL(seq string) string {
	if f.cfg.DetailURL != "" {
		return fmt.Sprintf(f.cfg.DetailURL, url.QueryEscape(seq))
	}
	u, err := withQuery(f.cfg.URL, url.Values{"seq": {seq}})
	if err != nil {
		return ""
	}
	return u
}

// withQuery 在已有 query 上追加参数
func withQuery(raw string, q url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	merged := u.Query()
	for k, vs := range q {
		merged[k] = vs
	}
	u.RawQuery = merged.Encode()
	return u.String(), nil
}
