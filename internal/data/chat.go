package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/repo"
)

// chatRepo implements the chat registry
type chatRepo struct {
	db *sql.DB
}

// NewChatRepo creates a new chat repository
func NewChatRepo(db *sql.DB) repo.ChatRepo {
	return &chatRepo{db: db}
}

const chatColumns = `chat_id, title, kind, is_work, last_seen_message_id, last_seen_at, active, inactive_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*domain.Chat, error) {
	var chat domain.Chat
	var kind string
	var isWork, active int
	var lastSeenAt, createdAt, updatedAt int64
	err := row.Scan(&chat.ChatID, &chat.Title, &kind, &isWork, &chat.Cursor.MessageID, &lastSeenAt,
		&active, &chat.InactiveReason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	chat.Kind = domain.ParseChatKind(kind)
	chat.IsWork = isWork == 1
	chat.Active = active == 1
	chat.Cursor.At = fromMillis(lastSeenAt)
	chat.CreatedAt = fromMillis(createdAt)
	chat.UpdatedAt = fromMillis(updatedAt)
	return &chat, nil
}

// UpsertChat inserts a chat or refreshes its title and kind
func (r *chatRepo) UpsertChat(ctx context.Context, chatID, title string, kind domain.ChatKind) (*domain.Chat, error) {
	now := time.Now().UnixMilli()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chats (chat_id, title, kind, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			title = excluded.title,
			kind = excluded.kind,
			updated_at = excluded.updated_at
	`, chatID, title, string(kind), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert chat: %w", err)
	}
	return r.GetChat(ctx, chatID)
}

// GetChat gets a chat by ID
func (r *chatRepo) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE chat_id = ?`, chatID)
	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}
	return chat, nil
}

// ListChats lists chats ordered by ID
func (r *chatRepo) ListChats(ctx context.Context, activeOnly bool) ([]*domain.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY chat_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []*domain.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// AdvanceCursor moves the cursor forward, never backward
func (r *chatRepo) AdvanceCursor(ctx context.Context, chatID string, cursor domain.Cursor) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current domain.Cursor
	var lastSeenAt int64
	err = tx.QueryRowContext(ctx, `
		SELECT last_seen_message_id, last_seen_at FROM chats WHERE chat_id = ?
	`, chatID).Scan(&current.MessageID, &lastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrChatNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cursor: %w", err)
	}
	current.At = fromMillis(lastSeenAt)

	if !current.Before(cursor) {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE chats SET last_seen_message_id = ?, last_seen_at = ?, updated_at = ? WHERE chat_id = ?
	`, cursor.MessageID, toMillis(cursor.At), time.Now().UnixMilli(), chatID)
	if err != nil {
		return false, fmt.Errorf("failed to advance cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit cursor: %w", err)
	}
	return true, nil
}

// SetWork caches the classification result
func (r *chatRepo) SetWork(ctx context.Context, chatID string, isWork bool) error {
	return r.update(ctx, chatID, `UPDATE chats SET is_work = ?, updated_at = ? WHERE chat_id = ?`,
		boolToInt(isWork), time.Now().UnixMilli(), chatID)
}

// MarkInactive deactivates a chat
func (r *chatRepo) MarkInactive(ctx context.Context, chatID, reason string) error {
	return r.update(ctx, chatID, `UPDATE chats SET active = 0, inactive_reason = ?, updated_at = ? WHERE chat_id = ?`,
		reason, time.Now().UnixMilli(), chatID)
}

// Reinstate reactivates a chat
func (r *chatRepo) Reinstate(ctx context.Context, chatID string) error {
	return r.update(ctx, chatID, `UPDATE chats SET active = 1, inactive_reason = '', updated_at = ? WHERE chat_id = ?`,
		time.Now().UnixMilli(), chatID)
}

func (r *chatRepo) update(ctx context.Context, chatID, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update chat %s: %w", chatID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrChatNotFound
	}
	return nil
}
