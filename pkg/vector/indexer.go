package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vibingu/vibingu/pkg/store"
)

// Embedder turns text into a vector. The gateway's embedding primitive is
// adapted to this shape at wiring time.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// CategoryNames maps category codes to their Chinese display names used in
// indexed documents.
var CategoryNames = map[string]string{
	store.CategorySleep:    "睡眠",
	store.CategoryDiet:     "饮食",
	store.CategoryActivity: "运动",
	store.CategoryScreen:   "屏幕使用",
	store.CategoryMood:     "心情",
	store.CategorySocial:   "社交",
	store.CategoryWork:     "工作",
	store.CategoryGrowth:   "学习成长",
	store.CategoryLeisure:  "休闲",
}

// DimensionNames maps dimension keys to Chinese display names.
var DimensionNames = map[string]string{
	"body":    "身体",
	"mood":    "心情",
	"social":  "社交",
	"work":    "工作",
	"growth":  "成长",
	"meaning": "意义",
	"digital": "数字健康",
	"leisure": "休闲",
}

var weekdayNames = [...]string{"周日", "周一", "周二", "周三", "周四", "周五", "周六"}

// reconcileThreshold: below this indexed/stored ratio the whole index is
// rebuilt at startup.
const reconcileThreshold = 0.95

// Indexer renders life records into searchable documents and keeps the
// vector store in sync with the relational store.
type Indexer struct {
	store *Store
	embed Embedder
	loc   *time.Location
}

// NewIndexer wires an indexer. Times are rendered in Beijing local time to
// match record anchoring.
func NewIndexer(s *Store, embed Embedder) *Indexer {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return &Indexer{store: s, embed: embed, loc: loc}
}

// RenderDocument produces the text that gets embedded for a record: the
// local time line, Chinese category name, content, insight, tags and
// dimension scores.
func (ix *Indexer) RenderDocument(r *store.LifeRecord) string {
	t := r.RecordTime.In(ix.loc)
	var b strings.Builder
	fmt.Fprintf(&b, "时间: %s %s\n", t.Format("2006年01月02日 15:04"), weekdayNames[t.Weekday()])

	name := CategoryNames[r.Category]
	if name == "" {
		name = r.Category
	}
	fmt.Fprintf(&b, "类别: %s\n", name)
	fmt.Fprintf(&b, "内容: %s\n", r.Content)
	if r.AIInsight != "" {
		fmt.Fprintf(&b, "洞察: %s\n", r.AIInsight)
	}
	if len(r.Tags) > 0 {
		fmt.Fprintf(&b, "标签: %s\n", strings.Join(r.Tags, " "))
	}
	if len(r.Dimensions) > 0 {
		var scores []string
		for _, key := range store.DimensionKeys {
			if v, ok := r.Dimensions[key]; ok {
				scores = append(scores, fmt.Sprintf("%s:%d", DimensionNames[key], v))
			}
		}
		if len(scores) > 0 {
			fmt.Fprintf(&b, "维度得分: %s\n", strings.Join(scores, " "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (ix *Indexer) metadataFor(r *store.LifeRecord) map[string]string {
	t := r.RecordTime.In(ix.loc)
	meta := map[string]string{
		"record_id":  r.ID,
		"category":   r.Category,
		"created_at": r.CreatedAt.UTC().Format(time.RFC3339),
		"date":       t.Format("2006-01-02"),
		"hour":       fmt.Sprintf("%d", t.Hour()),
	}
	if len(r.SubCategories) > 0 {
		meta["sub_categories"] = strings.Join(r.SubCategories, ",")
	}
	if len(r.Tags) > 0 {
		tags := r.Tags
		if len(tags) > 10 {
			tags = tags[:10]
		}
		meta["tags"] = strings.Join(tags, ",")
	}
	return meta
}

// IndexRecord embeds and upserts one record.
func (ix *Indexer) IndexRecord(ctx context.Context, r *store.LifeRecord) error {
	doc := ix.RenderDocument(r)
	vec, err := ix.embed.Embed(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to embed record %s: %w", r.ID, err)
	}
	if err := ix.store.Upsert(ctx, r.ID, doc, vec, ix.metadataFor(r)); err != nil {
		return err
	}
	return nil
}

// RemoveRecord drops a record from the index.
func (ix *Indexer) RemoveRecord(ctx context.Context, id string) error {
	return ix.store.Delete(ctx, id)
}

// SearchHit is one semantic match resolved to a record id.
type SearchHit struct {
	RecordID  string
	Document  string
	Relevance float32
	Category  string
	Date      string
}

// Search embeds the query and returns the topK most relevant records,
// optionally restricted to one category.
func (ix *Indexer) Search(ctx context.Context, query string, topK int, category string) ([]SearchHit, error) {
	vec, err := ix.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var where map[string]string
	if category != "" {
		where = map[string]string{"category": category}
	}
	results, err := ix.store.Search(ctx, vec, topK, where)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{
			RecordID:  r.Metadata["record_id"],
			Document:  r.Content,
			Relevance: r.Score,
			Category:  r.Metadata["category"],
			Date:      r.Metadata["date"],
		})
	}
	return hits, nil
}

// Stats reports index coverage.
type Stats struct {
	IndexedCount int     `json:"indexed_count"`
	RecordCount  int     `json:"record_count"`
	Coverage     float64 `json:"coverage"`
}

// StatsFor computes coverage against the relational record count.
func (ix *Indexer) StatsFor(recordCount int) Stats {
	s := Stats{IndexedCount: ix.store.Count(), RecordCount: recordCount}
	if recordCount > 0 {
		s.Coverage = float64(s.IndexedCount) / float64(recordCount)
	} else {
		s.Coverage = 1
	}
	return s
}

// Reconcile rebuilds the index when coverage has drifted below the
// threshold, e.g. after a lost persistence directory. Called at startup.
func (ix *Indexer) Reconcile(ctx context.Context, records []*store.LifeRecord) error {
	if len(records) == 0 {
		return nil
	}
	ratio := float64(ix.store.Count()) / float64(len(records))
	if ratio >= reconcileThreshold {
		return nil
	}
	slog.Info("vector index out of sync, rebuilding",
		"indexed", ix.store.Count(), "records", len(records))
	return ix.Reindex(ctx, records)
}

// Reindex clears the collection and indexes every record. Individual embed
// failures are logged and skipped so one bad record cannot block the rest.
func (ix *Indexer) Reindex(ctx context.Context, records []*store.LifeRecord) error {
	if err := ix.store.Clear(); err != nil {
		return err
	}
	var failed int
	for _, r := range records {
		if err := ix.IndexRecord(ctx, r); err != nil {
			failed++
			slog.Warn("failed to reindex record", "record_id", r.ID, "error", err)
		}
	}
	if failed > 0 {
		slog.Warn("reindex finished with failures", "failed", failed, "total", len(records))
	}
	return nil
}
