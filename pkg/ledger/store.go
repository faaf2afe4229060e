package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Supported SQL dialects.
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

const schemaTokenUsage = `
CREATE TABLE IF NOT EXISTS token_usage (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	model TEXT NOT NULL,
	bucket TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	estimated_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
	task_type TEXT NOT NULL,
	task_description TEXT,
	related_record_id TEXT
)`

const schemaTokenUsageIndex = `
CREATE INDEX IF NOT EXISTS ix_token_usage_created_at ON token_usage (created_at)`

// Entry is one upstream call's accounting row.
type Entry struct {
	ID               string
	CreatedAt        time.Time
	Model            string
	Bucket           string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCost    float64
	TaskType         string
	TaskDescription  string
	RelatedRecordID  string
}

// Store persists and aggregates usage rows.
type Store struct {
	db      *sql.DB
	dialect string
	prices  *PriceTable
}

// NewStore validates the dialect, ensures the schema, and returns a Store.
func NewStore(db *sql.DB, dialect string, prices *PriceTable) (*Store, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres, DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported ledger dialect: %s", dialect)
	}
	if prices == nil {
		prices = NewPriceTable(nil)
	}

	s := &Store{db: db, dialect: dialect, prices: prices}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range []string{schemaTokenUsage, schemaTokenUsageIndex} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record fills derived fields (id, bucket, total, cost) and appends the row.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Bucket == "" {
		entry.Bucket = BucketFor(entry.Model)
	}
	if entry.TotalTokens == 0 {
		entry.TotalTokens = entry.PromptTokens + entry.CompletionTokens
	}
	if entry.EstimatedCost == 0 {
		entry.EstimatedCost = s.prices.Cost(entry.Model, entry.PromptTokens, entry.CompletionTokens)
	}
	if entry.TaskType == "" {
		entry.TaskType = TaskOther
	}

	query := s.rebind(`INSERT INTO token_usage
		(id, created_at, model, bucket, prompt_tokens, completion_tokens, total_tokens,
		 estimated_cost, task_type, task_description, related_record_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.CreatedAt, entry.Model, entry.Bucket,
		entry.PromptTokens, entry.CompletionTokens, entry.TotalTokens,
		entry.EstimatedCost, entry.TaskType, entry.TaskDescription,
		nullable(entry.RelatedRecordID))
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// RecordBestEffort logs instead of failing. The gateway uses this variant:
// accounting never takes down a user request.
func (s *Store) RecordBestEffort(ctx context.Context, entry Entry) {
	if err := s.Record(ctx, entry); err != nil {
		slog.Warn("usage ledger write failed", "model", entry.Model, "task", entry.TaskType, "error", err)
	}
}

// BucketStat aggregates tokens/cost/count for one group.
type BucketStat struct {
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
	Count  int     `json:"count"`
}

// Stats is the aggregate over a time range.
type Stats struct {
	TotalTokens  int                   `json:"total_tokens"`
	TotalCost    float64               `json:"total_cost"`
	RequestCount int                   `json:"request_count"`
	ByModel      map[string]BucketStat `json:"by_model"`
	ByTask       map[string]BucketStat `json:"by_task"`
}

// StatsRange aggregates usage in [start, end). Zero times are open bounds.
func (s *Store) StatsRange(ctx context.Context, start, end time.Time) (*Stats, error) {
	query := `SELECT bucket, task_type, total_tokens, estimated_cost FROM token_usage WHERE 1=1`
	var args []any
	if !start.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, start)
	}
	if !end.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, end)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{
		ByModel: make(map[string]BucketStat),
		ByTask:  make(map[string]BucketStat),
	}
	for rows.Next() {
		var bucket, task string
		var tokens int
		var cost float64
		if err := rows.Scan(&bucket, &task, &tokens, &cost); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}

		stats.TotalTokens += tokens
		stats.TotalCost += cost
		stats.RequestCount++

		m := stats.ByModel[bucket]
		m.Tokens += tokens
		m.Cost += cost
		m.Count++
		stats.ByModel[bucket] = m

		tk := stats.ByTask[task]
		tk.Tokens += tokens
		tk.Cost += cost
		tk.Count++
		stats.ByTask[task] = tk
	}
	return stats, rows.Err()
}

// TodayStats aggregates since local midnight.
func (s *Store) TodayStats(ctx context.Context, now time.Time) (*Stats, error) {
	day := now.Truncate(24 * time.Hour)
	day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.StatsRange(ctx, day, day.AddDate(0, 0, 1))
}

// WeekStats aggregates since Monday of the current week.
func (s *Store) WeekStats(ctx context.Context, now time.Time) (*Stats, error) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return s.StatsRange(ctx, day.AddDate(0, 0, -offset), time.Time{})
}

// MonthStats aggregates since the first of the current month.
func (s *Store) MonthStats(ctx context.Context, now time.Time) (*Stats, error) {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return s.StatsRange(ctx, first, time.Time{})
}

// DayStat is one day of the usage trend.
type DayStat struct {
	Date     string  `json:"date"`
	Tokens   int     `json:"tokens"`
	Cost     float64 `json:"cost"`
	Requests int     `json:"requests"`
}

// DailyTrend returns per-day aggregates for the trailing N days, oldest
// first, including zero days.
func (s *Store) DailyTrend(ctx context.Context, days int, now time.Time) ([]DayStat, error) {
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT created_at, total_tokens, estimated_cost FROM token_usage
			WHERE created_at >= ? AND created_at < ?`), start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage trend: %w", err)
	}
	defer rows.Close()

	byDay := make(map[string]*DayStat)
	for rows.Next() {
		var at time.Time
		var tokens int
		var cost float64
		if err := rows.Scan(&at, &tokens, &cost); err != nil {
			return nil, fmt.Errorf("failed to scan trend row: %w", err)
		}
		key := at.In(now.Location()).Format("2006-01-02")
		d := byDay[key]
		if d == nil {
			d = &DayStat{Date: key}
			byDay[key] = d
		}
		d.Tokens += tokens
		d.Cost += cost
		d.Requests++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trend := make([]DayStat, 0, days)
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		if d := byDay[key]; d != nil {
			trend = append(trend, *d)
		} else {
			trend = append(trend, DayStat{Date: key})
		}
	}
	return trend, nil
}

// rebind converts ? placeholders to $N for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
