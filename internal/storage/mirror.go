package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/LJTian/AINewsHub/internal/collector"
)

const (
	mirrorBatchSize  = 200
	maxSourceRunes   = 128
	maxTitleRunes    = 512
	maxSummaryRunes  = 600
	maxURLRunes      = 1024
	maxAuthorRunes   = 256
	defaultListLimit = 20
	maxListLimit     = 1000
)

// ArticleRecord articles 表的一行，是最近一次采集结果的快照
type ArticleRecord struct {
	ID          string         `gorm:"primaryKey;size:40" json:"id"`
	Source      string         `gorm:"size:128;index" json:"source"`
	Title       string         `gorm:"size:512" json:"title"`
	URL         string         `gorm:"size:1024;index" json:"url"`
	Date        string         `gorm:"size:10;index" json:"date"`
	Summary     string         `gorm:"size:600" json:"summary"`
	Author      string         `gorm:"size:256" json:"author"`
	Categories  datatypes.JSON `gorm:"type:jsonb" json:"categories"`
	CollectedAt string         `gorm:"size:19" json:"collected_at"`
	// SortAt 与内存排序使用同一规则：date，缺失时回退到 collected_at
	SortAt time.Time `gorm:"index" json:"-"`
	// Position 本轮处理后的全局顺序
	Position int `gorm:"index" json:"-"`
}

func (ArticleRecord) TableName() string {
	return "articles"
}

// Mirror 可选的 Postgres 镜像，供需要 SQL 查询的下游使用
type Mirror struct {
	DB  *gorm.DB
	log *slog.Logger
}

func OpenMirror(dsn string, log *slog.Logger) (*Mirror, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&ArticleRecord{}); err != nil {
		return nil, fmt.Errorf("migrate articles: %w", err)
	}
	return NewMirror(db, log), nil
}

func NewMirror(db *gorm.DB, log *slog.Logger) *Mirror {
	return &Mirror{DB: db, log: log}
}

// Replace 在一个事务里清空并重写 articles 表，与文件存储一样是整体快照
func (m *Mirror) Replace(ctx context.Context, articles []collector.Article) error {
	records := make([]ArticleRecord, 0, len(articles))
	for i, a := range articles {
		rec, err := toRecord(a, i)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&ArticleRecord{}).Error; err != nil {
			return fmt.Errorf("clear articles: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(records, mirrorBatchSize).Error; err != nil {
			return fmt.Errorf("insert articles: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if m.log != nil {
		m.log.Info("mirrored articles", "rows", len(records))
	}
	return nil
}

// List 按来源与日期过滤，按与文件存储相同的顺序返回
func (m *Mirror) List(ctx context.Context, source, date string, limit int) ([]ArticleRecord, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	q := m.DB.WithContext(ctx).Model(&ArticleRecord{})
	if source != "" {
		q = q.Where("source = ?", source)
	}
	if date != "" {
		q = q.Where("date = ?", date)
	}
	var list []ArticleRecord
	if err := q.Order("position ASC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func toRecord(a collector.Article, position int) (ArticleRecord, error) {
	cats := a.Categories
	if cats == nil {
		cats = []string{}
	}
	raw, err := json.Marshal(cats)
	if err != nil {
		return ArticleRecord{}, fmt.Errorf("encode categories: %w", err)
	}
	return ArticleRecord{
		ID:          recordID(a, position),
		Source:      truncateRunesDB(toValidUTF8(a.Source), maxSourceRunes),
		Title:       truncateRunesDB(toValidUTF8(a.Title), maxTitleRunes),
		URL:         truncateRunesDB(a.URL, maxURLRunes),
		Date:        a.Date,
		Summary:     truncateRunesDB(toValidUTF8(a.Summary), maxSummaryRunes),
		Author:      truncateRunesDB(toValidUTF8(a.Author), maxAuthorRunes),
		Categories:  datatypes.JSON(raw),
		CollectedAt: a.CollectedAt,
		SortAt:      a.SortTime(),
		Position:    position,
	}, nil
}

// recordID URL 已全局去重，直接取其哈希；URL 为空的条目用来源 + 位置区分
func recordID(a collector.Article, position int) string {
	key := a.URL
	if key == "" {
		key = fmt.Sprintf("%s#%d", a.Source, position)
	}
	h := sha1.New()
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

// toValidUTF8 避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// truncateRunesDB 按 rune 截断，确保不超过字段长度
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}
