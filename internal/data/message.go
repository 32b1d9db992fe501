package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/repo"
)

// messageRepo implements the message store
type messageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a new message repository
func NewMessageRepo(db *sql.DB) repo.MessageRepo {
	return &messageRepo{db: db}
}

// IngestMessages inserts messages, skipping duplicates
func (r *messageRepo) IngestMessages(ctx context.Context, chatID string, msgs []*domain.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO messages (chat_id, platform_message_id, sender, text, ts, is_business, raw_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	inserted := 0
	for _, m := range msgs {
		res, err := stmt.ExecContext(ctx, chatID, m.PlatformMessageID, m.Sender, m.Text,
			toMillis(m.Timestamp), boolToInt(m.IsBusiness), m.RawJSON, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert message %s: %w", m.PlatformMessageID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit messages: %w", err)
	}
	return inserted, nil
}

// MessagesInWindow returns messages in [start, end), oldest first
func (r *messageRepo) MessagesInWindow(ctx context.Context, chatID string, start, end time.Time) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chat_id, platform_message_id, sender, text, ts, is_business, raw_json, created_at
		FROM messages
		WHERE chat_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC, id ASC
	`, chatID, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		var m domain.Message
		var ts, createdAt int64
		var isBusiness int
		if err := rows.Scan(&m.ID, &m.ChatID, &m.PlatformMessageID, &m.Sender, &m.Text,
			&ts, &isBusiness, &m.RawJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Timestamp = fromMillis(ts)
		m.IsBusiness = isBusiness == 1
		m.CreatedAt = fromMillis(createdAt)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// DeleteBefore removes messages older than the given time
func (r *messageRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE ts < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	return res.RowsAffected()
}
