// Package store persists life records, chat history and app settings over
// database/sql. Postgres, MySQL and SQLite are supported; concurrency is
// handled by database-level locking, not Go mutexes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when the requested row does not exist or is
// soft-deleted.
var ErrNotFound = errors.New("not found")

const createLifeRecordsSQL = `
CREATE TABLE IF NOT EXISTS life_records (
    id VARCHAR(64) PRIMARY KEY,
    raw_content TEXT,
    content TEXT,
    ai_insight TEXT,
    category VARCHAR(32) NOT NULL,
    sub_categories_json TEXT,
    tags_json TEXT,
    dimensions_json TEXT,
    meta_data_json TEXT,
    input_type VARCHAR(32) NOT NULL,
    image_type VARCHAR(64),
    image_path VARCHAR(512),
    thumbnail_path VARCHAR(512),
    image_saved BOOLEAN DEFAULT FALSE,
    record_time TIMESTAMP NOT NULL,
    is_public BOOLEAN DEFAULT FALSE,
    is_bookmarked BOOLEAN DEFAULT FALSE,
    is_deleted BOOLEAN DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createLifeRecordsTimeIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_life_records_time ON life_records(record_time)`

const createLifeRecordsCategoryIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_life_records_category ON life_records(category, record_time)`

const createConversationsSQL = `
CREATE TABLE IF NOT EXISTS chat_conversations (
    id VARCHAR(64) PRIMARY KEY,
    title VARCHAR(255) NOT NULL,
    is_deleted BOOLEAN DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createMessagesSQL = `
CREATE TABLE IF NOT EXISTS chat_messages (
    id VARCHAR(64) PRIMARY KEY,
    conversation_id VARCHAR(64) NOT NULL,
    role VARCHAR(16) NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

const createMessagesIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_chat_messages_conv ON chat_messages(conversation_id, created_at)`

const createSettingsSQL = `
CREATE TABLE IF NOT EXISTS app_settings (
    name VARCHAR(128) PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

// Store is the SQL-backed persistence layer.
type Store struct {
	db      *sql.DB
	dialect string
}

// New validates the dialect, creates the schema, and returns the store.
// dialect must match the sql.Open driver name: sqlite3, postgres or mysql.
func New(db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite3", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite3, postgres, mysql)", dialect)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// One statement per exec for SQLite compatibility.
	statements := []string{
		createLifeRecordsSQL,
		createLifeRecordsTimeIndexSQL,
		createLifeRecordsCategoryIndexSQL,
		createConversationsSQL,
		createMessagesSQL,
		createMessagesIndexSQL,
		createSettingsSQL,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying handle for sibling stores sharing the connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $1, $2, ... for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 20)
	n := 1
	for _, c := range query {
		if c == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// marshalJSON serializes v for a TEXT column, "" for empty values.
func marshalJSON(v any) string {
	switch t := v.(type) {
	case []string:
		if len(t) == 0 {
			return ""
		}
	case map[string]int:
		if len(t) == 0 {
			return ""
		}
	case map[string]any:
		if len(t) == 0 {
			return ""
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func unmarshalIntMap(raw string) map[string]int {
	if raw == "" {
		return nil
	}
	var out map[string]int
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func unmarshalAnyMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
