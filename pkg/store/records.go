package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

const recordColumns = `id, raw_content, content, ai_insight, category,
    sub_categories_json, tags_json, dimensions_json, meta_data_json,
    input_type, image_type, image_path, thumbnail_path, image_saved,
    record_time, is_public, is_bookmarked, is_deleted, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*LifeRecord, error) {
	var r LifeRecord
	var subCats, tags, dims, meta string
	err := row.Scan(
		&r.ID, &r.RawContent, &r.Content, &r.AIInsight, &r.Category,
		&subCats, &tags, &dims, &meta,
		&r.InputType, &r.ImageType, &r.ImagePath, &r.ThumbnailPath, &r.ImageSaved,
		&r.RecordTime, &r.IsPublic, &r.IsBookmarked, &r.IsDeleted, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.SubCategories = unmarshalStrings(subCats)
	r.Tags = unmarshalStrings(tags)
	r.Dimensions = unmarshalIntMap(dims)
	r.MetaData = unmarshalAnyMap(meta)
	return &r, nil
}

// CreateRecord inserts a life record, assigning ID and timestamps when unset.
func (s *Store) CreateRecord(ctx context.Context, r *LifeRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.RecordTime.IsZero() {
		r.RecordTime = r.CreatedAt
	}
	r.UpdatedAt = now

	query := s.rebind(`INSERT INTO life_records (` + recordColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.RawContent, r.Content, r.AIInsight, r.Category,
		marshalJSON(r.SubCategories), marshalJSON(r.Tags),
		marshalJSON(r.Dimensions), marshalJSON(r.MetaData),
		r.InputType, r.ImageType, r.ImagePath, r.ThumbnailPath, r.ImageSaved,
		r.RecordTime, r.IsPublic, r.IsBookmarked, r.IsDeleted, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// GetRecord fetches one non-deleted record by id.
func (s *Store) GetRecord(ctx context.Context, id string) (*LifeRecord, error) {
	query := s.rebind(`SELECT ` + recordColumns + ` FROM life_records
        WHERE id = ? AND is_deleted = FALSE`)
	r, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return r, nil
}

// UpdateRecord rewrites the mutable AI-derived fields of a record. Identity,
// image and input fields are immutable after creation.
func (s *Store) UpdateRecord(ctx context.Context, r *LifeRecord) error {
	return s.updateRecord(ctx, s.db, r)
}

// UpdateRecordTx is UpdateRecord inside a caller-owned transaction.
func (s *Store) UpdateRecordTx(ctx context.Context, tx *sql.Tx, r *LifeRecord) error {
	return s.updateRecord(ctx, tx, r)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) updateRecord(ctx context.Context, ex execer, r *LifeRecord) error {
	r.UpdatedAt = time.Now().UTC()
	query := s.rebind(`UPDATE life_records SET
        content = ?, ai_insight = ?, category = ?,
        sub_categories_json = ?, tags_json = ?, dimensions_json = ?, meta_data_json = ?,
        record_time = ?, updated_at = ?
        WHERE id = ? AND is_deleted = FALSE`)
	res, err := ex.ExecContext(ctx, query,
		r.Content, r.AIInsight, r.Category,
		marshalJSON(r.SubCategories), marshalJSON(r.Tags),
		marshalJSON(r.Dimensions), marshalJSON(r.MetaData),
		r.RecordTime, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return requireRowAffected(res)
}

// Begin starts a transaction for multi-statement updates.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// SoftDeleteRecord marks a record deleted without removing the row.
func (s *Store) SoftDeleteRecord(ctx context.Context, id string) error {
	query := s.rebind(`UPDATE life_records SET is_deleted = TRUE, updated_at = ?
        WHERE id = ? AND is_deleted = FALSE`)
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return requireRowAffected(res)
}

// SetVisibility flips the public flag of a record.
func (s *Store) SetVisibility(ctx context.Context, id string, public bool) error {
	query := s.rebind(`UPDATE life_records SET is_public = ?, updated_at = ?
        WHERE id = ? AND is_deleted = FALSE`)
	res, err := s.db.ExecContext(ctx, query, public, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set visibility: %w", err)
	}
	return requireRowAffected(res)
}

// SetBookmarked flips the bookmark flag of a record.
func (s *Store) SetBookmarked(ctx context.Context, id string, bookmarked bool) error {
	query := s.rebind(`UPDATE life_records SET is_bookmarked = ?, updated_at = ?
        WHERE id = ? AND is_deleted = FALSE`)
	res, err := s.db.ExecContext(ctx, query, bookmarked, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set bookmark: %w", err)
	}
	return requireRowAffected(res)
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil // driver without RowsAffected support
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HistoryFilter narrows a paged history listing.
type HistoryFilter struct {
	Page     int
	PageSize int
	// Category filters by the primary category when non-empty.
	Category string
	// Date filters to a single local day when non-zero; Date's location
	// defines the day boundaries.
	Date time.Time
	// PublicOnly keeps only records marked public.
	PublicOnly bool
	// BookmarkedOnly keeps only bookmarked records.
	BookmarkedOnly bool
}

// History returns one page of records, newest first, plus the total count
// matching the filter.
func (s *Store) History(ctx context.Context, f HistoryFilter) ([]*LifeRecord, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 20
	}

	where := ` WHERE is_deleted = FALSE`
	var args []any
	if f.Category != "" {
		where += ` AND category = ?`
		args = append(args, f.Category)
	}
	if !f.Date.IsZero() {
		dayStart := time.Date(f.Date.Year(), f.Date.Month(), f.Date.Day(), 0, 0, 0, 0, f.Date.Location())
		where += ` AND record_time >= ? AND record_time < ?`
		args = append(args, dayStart.UTC(), dayStart.Add(24*time.Hour).UTC())
	}
	if f.PublicOnly {
		where += ` AND is_public = TRUE`
	}
	if f.BookmarkedOnly {
		where += ` AND is_bookmarked = TRUE`
	}

	var total int
	countQuery := s.rebind(`SELECT COUNT(*) FROM life_records` + where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	query := s.rebind(`SELECT ` + recordColumns + ` FROM life_records` + where +
		` ORDER BY record_time DESC LIMIT ? OFFSET ?`)
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*LifeRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, total, rows.Err()
}

// RecordsBetween returns non-deleted records with record_time in [from, to),
// oldest first. Used by stats, summaries and chat context assembly.
func (s *Store) RecordsBetween(ctx context.Context, from, to time.Time) ([]*LifeRecord, error) {
	query := s.rebind(`SELECT ` + recordColumns + ` FROM life_records
        WHERE is_deleted = FALSE AND record_time >= ? AND record_time < ?
        ORDER BY record_time ASC`)
	rows, err := s.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*LifeRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ActiveRecords streams every non-deleted record, oldest first. Used by the
// vector index reconciliation pass.
func (s *Store) ActiveRecords(ctx context.Context) ([]*LifeRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM life_records
        WHERE is_deleted = FALSE ORDER BY record_time ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*LifeRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountActive counts non-deleted records.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM life_records WHERE is_deleted = FALSE`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// TrendingTags counts tag usage across records since the cutoff and returns
// the top limit tags by frequency. Tags live in a JSON column, so counting
// happens here rather than in SQL; the window is small (days, not years).
func (s *Store) TrendingTags(ctx context.Context, since time.Time, limit int) ([]TagCount, error) {
	query := s.rebind(`SELECT tags_json FROM life_records
        WHERE is_deleted = FALSE AND record_time >= ? AND tags_json != ''`)
	rows, err := s.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan tags: %w", err)
		}
		for _, tag := range unmarshalStrings(raw) {
			counts[tag]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trending := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		trending = append(trending, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(trending, func(i, j int) bool {
		if trending[i].Count != trending[j].Count {
			return trending[i].Count > trending[j].Count
		}
		return trending[i].Tag < trending[j].Tag
	})
	if limit > 0 && len(trending) > limit {
		trending = trending[:limit]
	}
	return trending, nil
}
