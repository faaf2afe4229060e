package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultConversationTitle is the placeholder title before the first message
// names the conversation.
const DefaultConversationTitle = "新对话"

// CreateConversation inserts a conversation. An empty title gets the default.
func (s *Store) CreateConversation(ctx context.Context, title string) (*ChatConversation, error) {
	if title == "" {
		title = DefaultConversationTitle
	}
	now := time.Now().UTC()
	conv := &ChatConversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	query := s.rebind(`INSERT INTO chat_conversations (id, title, is_deleted, created_at, updated_at)
        VALUES (?, ?, FALSE, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation fetches one non-deleted conversation.
func (s *Store) GetConversation(ctx context.Context, id string) (*ChatConversation, error) {
	query := s.rebind(`SELECT id, title, is_deleted, created_at, updated_at
        FROM chat_conversations WHERE id = ? AND is_deleted = FALSE`)
	var c ChatConversation
	err := s.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Title, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &c, nil
}

// ListConversations returns non-deleted conversations, most recent first.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]*ChatConversation, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	query := s.rebind(`SELECT id, title, is_deleted, created_at, updated_at
        FROM chat_conversations WHERE is_deleted = FALSE
        ORDER BY updated_at DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*ChatConversation
	for rows.Next() {
		var c ChatConversation
		if err := rows.Scan(&c.ID, &c.Title, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, &c)
	}
	return convs, rows.Err()
}

// SetConversationTitle renames a conversation.
func (s *Store) SetConversationTitle(ctx context.Context, id, title string) error {
	query := s.rebind(`UPDATE chat_conversations SET title = ?, updated_at = ?
        WHERE id = ? AND is_deleted = FALSE`)
	res, err := s.db.ExecContext(ctx, query, title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}
	return requireRowAffected(res)
}

// SoftDeleteConversation marks a conversation deleted. Its messages stay in
// place but become unreachable through the API.
func (s *Store) SoftDeleteConversation(ctx context.Context, id string) error {
	query := s.rebind(`UPDATE chat_conversations SET is_deleted = TRUE, updated_at = ?
        WHERE id = ? AND is_deleted = FALSE`)
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return requireRowAffected(res)
}

// AppendMessage stores one turn and touches the conversation timestamp,
// atomically.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (*ChatMessage, error) {
	msg := &ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := s.rebind(`INSERT INTO chat_messages (id, conversation_id, role, content, created_at)
        VALUES (?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insert, msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	touch := s.rebind(`UPDATE chat_conversations SET updated_at = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, touch, msg.CreatedAt, conversationID); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

// Messages returns every message of a conversation in chronological order.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]*ChatMessage, error) {
	query := s.rebind(`SELECT id, conversation_id, role, content, created_at
        FROM chat_messages WHERE conversation_id = ?
        ORDER BY created_at ASC, id ASC`)
	return s.queryMessages(ctx, query, conversationID)
}

// RecentMessages returns the last limit messages of a conversation in
// chronological order, for priming chat history.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*ChatMessage, error) {
	if limit < 1 {
		limit = 6
	}
	query := s.rebind(`SELECT id, conversation_id, role, content, created_at FROM (
        SELECT id, conversation_id, role, content, created_at
        FROM chat_messages WHERE conversation_id = ?
        ORDER BY created_at DESC, id DESC LIMIT ?
    ) sub ORDER BY created_at ASC, id ASC`)
	return s.queryMessages(ctx, query, conversationID, limit)
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}
