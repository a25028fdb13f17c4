package processor

import (
	"sort"

	"github.com/LJTian/AINewsHub/internal/collector"
)

// Processor 聚合后的纯处理步骤：去重 -> 排序 -> 单源上限
type Processor struct {
	// maxPerSource <= 0 表示不限制
	maxPerSource int
}

func NewProcessor(maxPerSource int) *Processor {
	return &Processor{maxPerSource: maxPerSource}
}

func (p *Processor) Process(items []collector.Article) []collector.Article {
	return Process(items, p.maxPerSource)
}

// Process 去重后按时间倒序，再按来源截断
func Process(items []collector.Article, maxPerSource int) []collector.Article {
	out := Deduplicate(items)
	SortArticles(out)
	return CapPerSource(out, maxPerSource)
}

// Deduplicate 按 URL 精确去重，先出现的保留；URL 为空的条目无法判重，全部保留
func Deduplicate(items []collector.Article) []collector.Article {
	out := make([]collector.Article, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.URL != "" {
			if _, ok := seen[it.URL]; ok {
				continue
			}
			seen[it.URL] = struct{}{}
		}
		out = append(out, it)
	}
	return out
}

// SortArticles 稳定排序，新的在前；无有效日期时用 collected_at，两者都无效排最后
func SortArticles(items []collector.Article) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].SortTime().After(items[j].SortTime())
	})
}

// CapPerSource 每个来源按当前顺序保留前 n 条，合并后重新排序
func CapPerSource(items []collector.Article, n int) []collector.Article {
	if n <= 0 {
		return items
	}
	counts := make(map[string]int)
	out := make([]collector.Article, 0, len(items))
	for _, it := range items {
		if counts[it.Source] >= n {
			continue
		}
		counts[it.Source]++
		out = append(out, it)
	}
	SortArticles(out)
	return out
}
