package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/LJTian/AINewsHub/internal/collector"
	"github.com/LJTian/AINewsHub/internal/logger"
)

const (
	indexFile   = "index.json"
	statsFile   = "stats.json"
	sourcesDir  = "sources"
	noDate      = "N/A"
	dirPerm     = 0o755
	filePerm    = 0o644
	writeBufLen = 64 * 1024

	defaultPreviewCount = 10
)

// ErrSlugCollision 两个数据源名称映射到同一个分片文件
var ErrSlugCollision = errors.New("source names map to the same shard file")

// Shard 单个数据源的全部文章
type Shard struct {
	Source        string              `json:"source"`
	TotalArticles int                 `json:"total_articles"`
	UpdatedAt     string              `json:"updated_at"`
	Articles      []collector.Article `json:"articles"`
}

// IndexSource index.json 中的数据源目录条目
type IndexSource struct {
	Name          string `json:"name"`
	File          string `json:"file"`
	TotalArticles int    `json:"total_articles"`
	LatestDate    string `json:"latest_date"`
	PreviewCount  int    `json:"preview_count"`
}

// Index 首页使用的聚合文件：每个源的最新若干条 + 数据源目录
type Index struct {
	UpdatedAt       string              `json:"updated_at"`
	TotalSources    int                 `json:"total_sources"`
	TotalArticles   int                 `json:"total_articles"`
	PreviewArticles []collector.Article `json:"preview_articles"`
	Sources         []IndexSource       `json:"sources"`
}

type SourceStats struct {
	Count      int    `json:"count"`
	WithDates  int    `json:"with_dates"`
	LatestDate string `json:"latest_date"`
}

type Stats struct {
	UpdatedAt          string                 `json:"updated_at"`
	TotalSources       int                    `json:"total_sources"`
	TotalArticles      int                    `json:"total_articles"`
	ArticlesWithDates  int                    `json:"articles_with_dates"`
	DateExtractionRate string                 `json:"date_extraction_rate"`
	BySource           map[string]SourceStats `json:"by_source"`
}

// LegacyExport 旧版单文件导出格式
type LegacyExport struct {
	UpdatedAt     string              `json:"updated_at"`
	TotalArticles int                 `json:"total_articles"`
	Articles      []collector.Article `json:"articles"`
}

// Store 基于文件系统的 JSON 存储：sources/<slug>.json + index.json + stats.json。
// 每次 Save 都是整体重写，不做增量合并。
type Store struct {
	dir          string
	previewCount int
	log          *slog.Logger
	now          func() time.Time
}

func NewStore(dir string, previewCount int, log *slog.Logger) *Store {
	if previewCount <= 0 {
		previewCount = defaultPreviewCount
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Store{dir: dir, previewCount: previewCount, log: log, now: time.Now}
}

// Dir 数据根目录
func (s *Store) Dir() string {
	return s.dir
}

// Slug 分片文件名：小写，空格与路径分隔符替换为连字符
func Slug(name string) string {
	return strings.NewReplacer(" ", "-", "/", "-", `\`, "-").Replace(strings.ToLower(name))
}

// SlugCollisions 返回映射到同一 slug 的名称组，key 为 slug
func SlugCollisions(names []string) map[string][]string {
	bySlug := make(map[string][]string, len(names))
	for _, n := range names {
		slug := Slug(n)
		if !contains(bySlug[slug], n) {
			bySlug[slug] = append(bySlug[slug], n)
		}
	}
	out := make(map[string][]string)
	for slug, group := range bySlug {
		if len(group) > 1 {
			out[slug] = group
		}
	}
	return out
}

func shardFile(source string) string {
	return sourcesDir + "/" + Slug(source) + ".json"
}

// Save 按来源分组写分片，再生成 index.json 与 stats.json
func (s *Store) Save(articles []collector.Article) error {
	order, groups := groupBySource(articles)
	if collisions := SlugCollisions(order); len(collisions) > 0 {
		return fmt.Errorf("save: %w: %v", ErrSlugCollision, collisions)
	}

	updatedAt := s.now().Format(collector.TimestampLayout)
	for _, source := range order {
		shard := Shard{
			Source:        source,
			TotalArticles: len(groups[source]),
			UpdatedAt:     updatedAt,
			Articles:      groups[source],
		}
		if err := writeJSON(filepath.Join(s.dir, shardFile(source)), shard); err != nil {
			return fmt.Errorf("save shard %s: %w", source, err)
		}
		s.log.Info("saved shard", "source", source, "file", shardFile(source), "articles", len(groups[source]))
	}
	if err := s.pruneShards(order); err != nil {
		return err
	}

	index := buildIndex(order, groups, s.previewCount, updatedAt)
	if err := writeJSON(filepath.Join(s.dir, indexFile), index); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	s.log.Info("saved index", "preview_articles", len(index.PreviewArticles), "sources", index.TotalSources)

	stats := buildStats(groups, updatedAt)
	if err := writeJSON(filepath.Join(s.dir, statsFile), stats); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	s.log.Info("saved stats", "total_articles", stats.TotalArticles, "date_extraction_rate", stats.DateExtractionRate)
	return nil
}

// pruneShards 删除本轮没有文章的来源遗留下来的分片
func (s *Store) pruneShards(order []string) error {
	keep := make(map[string]struct{}, len(order))
	for _, source := range order {
		keep[Slug(source)+".json"] = struct{}{}
	}
	dir := filepath.Join(s.dir, sourcesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("list shards: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		if _, ok := keep[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("remove stale shard %s: %w", name, err)
		}
		s.log.Info("removed stale shard", "file", sourcesDir+"/"+name)
	}
	return nil
}

// groupBySource 按首次出现顺序分组，组内按日期字符串稳定倒序
func groupBySource(articles []collector.Article) ([]string, map[string][]collector.Article) {
	var order []string
	groups := make(map[string][]collector.Article)
	for _, a := range articles {
		if _, ok := groups[a.Source]; !ok {
			order = append(order, a.Source)
		}
		groups[a.Source] = append(groups[a.Source], a)
	}
	for _, g := range groups {
		sortByDate(g)
	}
	return order, groups
}

func sortByDate(items []collector.Article) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Date > items[j].Date
	})
}

func buildIndex(order []string, groups map[string][]collector.Article, previewCount int, updatedAt string) Index {
	index := Index{
		UpdatedAt:       updatedAt,
		TotalSources:    len(order),
		PreviewArticles: []collector.Article{},
		Sources:         make([]IndexSource, 0, len(order)),
	}
	for _, source := range order {
		g := groups[source]
		preview := g
		if len(preview) > previewCount {
			preview = preview[:previewCount]
		}
		index.PreviewArticles = append(index.PreviewArticles, preview...)
		index.TotalArticles += len(g)
		index.Sources = append(index.Sources, IndexSource{
			Name:          source,
			File:          shardFile(source),
			TotalArticles: len(g),
			LatestDate:    latestDate(g),
			PreviewCount:  len(preview),
		})
	}
	sortByDate(index.PreviewArticles)
	sort.SliceStable(index.Sources, func(i, j int) bool {
		return index.Sources[i].Name < index.Sources[j].Name
	})
	return index
}

func buildStats(groups map[string][]collector.Article, updatedAt string) Stats {
	stats := Stats{
		UpdatedAt:    updatedAt,
		TotalSources: len(groups),
		BySource:     make(map[string]SourceStats, len(groups)),
	}
	for source, g := range groups {
		withDates := 0
		for _, a := range g {
			if a.HasDate() {
				withDates++
			}
		}
		stats.TotalArticles += len(g)
		stats.ArticlesWithDates += withDates
		stats.BySource[source] = SourceStats{Count: len(g), WithDates: withDates, LatestDate: latestDate(g)}
	}
	stats.DateExtractionRate = DateExtractionRate(stats.ArticlesWithDates, stats.TotalArticles)
	return stats
}

// DateExtractionRate 保留一位小数的百分比，total 为 0 时返回 "0%"
func DateExtractionRate(withDates, total int) string {
	if total <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", float64(withDates)/float64(total)*100)
}

// latestDate 分片已按日期倒序，第一条有效日期即最新；没有则为 "N/A"
func latestDate(sorted []collector.Article) string {
	for _, a := range sorted {
		if a.HasDate() {
			return a.Date
		}
	}
	return noDate
}

// LoadShard 按 slug 读取分片；文件不存在返回空分片
func (s *Store) LoadShard(slug string) (Shard, error) {
	var shard Shard
	found, err := readJSON(filepath.Join(s.dir, sourcesDir, slug+".json"), &shard)
	if err != nil {
		return Shard{}, fmt.Errorf("load shard %s: %w", slug, err)
	}
	if !found {
		return Shard{Articles: []collector.Article{}}, nil
	}
	if shard.Articles == nil {
		shard.Articles = []collector.Article{}
	}
	return shard, nil
}

// Load 读取某个数据源的全部文章；分片不存在不是错误
func (s *Store) Load(source string) ([]collector.Article, error) {
	shard, err := s.LoadShard(Slug(source))
	if err != nil {
		return nil, err
	}
	return shard.Articles, nil
}

// LoadIndex index.json 不存在时返回空结构
func (s *Store) LoadIndex() (Index, error) {
	index := Index{PreviewArticles: []collector.Article{}, Sources: []IndexSource{}}
	if _, err := readJSON(filepath.Join(s.dir, indexFile), &index); err != nil {
		return Index{}, fmt.Errorf("load index: %w", err)
	}
	return index, nil
}

// LoadStats stats.json 不存在时返回空结构
func (s *Store) LoadStats() (Stats, error) {
	stats := Stats{DateExtractionRate: "0%", BySource: map[string]SourceStats{}}
	if _, err := readJSON(filepath.Join(s.dir, statsFile), &stats); err != nil {
		return Stats{}, fmt.Errorf("load stats: %w", err)
	}
	return stats, nil
}

// SaveLegacy 兼容旧前端的单文件导出
func (s *Store) SaveLegacy(path string, articles []collector.Article) error {
	if articles == nil {
		articles = []collector.Article{}
	}
	export := LegacyExport{
		UpdatedAt:     s.now().Format(collector.TimestampLayout),
		TotalArticles: len(articles),
		Articles:      articles,
	}
	if err := writeJSON(path, export); err != nil {
		return fmt.Errorf("save legacy export %s: %w", path, err)
	}
	s.log.Info("saved legacy export", "file", path, "articles", len(articles))
	return nil
}

// Publish 把数据目录镜像到 dest（sources/ 整体替换），
// assetsDir 下的 *.svg 复制到 dest 同级的 assets/ 目录
func (s *Store) Publish(dest, assetsDir string) error {
	if err := os.MkdirAll(dest, dirPerm); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	for _, name := range []string{indexFile, statsFile} {
		if err := copyFile(filepath.Join(s.dir, name), filepath.Join(dest, name)); err != nil {
			return fmt.Errorf("publish %s: %w", name, err)
		}
	}

	destSources := filepath.Join(dest, sourcesDir)
	if err := os.RemoveAll(destSources); err != nil {
		return fmt.Errorf("publish: clear %s: %w", destSources, err)
	}
	if err := copyDir(filepath.Join(s.dir, sourcesDir), destSources); err != nil {
		return fmt.Errorf("publish sources: %w", err)
	}

	if assetsDir == "" {
		return nil
	}
	svgs, err := filepath.Glob(filepath.Join(assetsDir, "*.svg"))
	if err != nil {
		return fmt.Errorf("publish assets: %w", err)
	}
	if len(svgs) == 0 {
		return nil
	}
	assetsDest := filepath.Join(filepath.Dir(filepath.Clean(dest)), "assets")
	if err := os.MkdirAll(assetsDest, dirPerm); err != nil {
		return fmt.Errorf("publish assets: %w", err)
	}
	for _, svg := range svgs {
		if err := copyFile(svg, filepath.Join(assetsDest, filepath.Base(svg))); err != nil {
			return fmt.Errorf("publish asset %s: %w", svg, err)
		}
	}
	s.log.Info("published", "dest", dest, "assets", len(svgs))
	return nil
}

// ---------- 文件读写 ----------

// writeJSON 同目录临时文件 + rename，单个文件的替换是原子的
func writeJSON(path string, v any) error {
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func writeAtomic(dest string, write func(io.Writer) error) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, filePerm)

	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	bw := bufio.NewWriterSize(tmp, writeBufLen)
	if err := write(bw); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// readJSON 文件不存在返回 found=false 且不报错
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeAtomic(dest, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

func copyDir(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, dirPerm)
		}
		return copyFile(path, target)
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
