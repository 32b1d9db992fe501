package repo

import (
	"context"
	"time"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
)

// ChatRepo is the chat registry interface
// Responsible for known chats, their work flag and ingestion cursor (SQLite)
type ChatRepo interface {
	// UpsertChat creates the chat on first sighting, otherwise refreshes title and kind.
	// Never touches the cursor, the work flag or the active flag.
	UpsertChat(ctx context.Context, chatID, title string, kind domain.ChatKind) (*domain.Chat, error)

	// GetChat returns domain.ErrChatNotFound when the chat is unknown
	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)

	// ListChats lists chats, optionally only active ones
	ListChats(ctx context.Context, activeOnly bool) ([]*domain.Chat, error)

	// AdvanceCursor moves the cursor only if the new position is strictly newer
	AdvanceCursor(ctx context.Context, chatID string, cursor domain.Cursor) (bool, error)

	// SetWork caches the latest classification result
	SetWork(ctx context.Context, chatID string, isWork bool) error

	// MarkInactive excludes a chat from ingestion until reinstated
	MarkInactive(ctx context.Context, chatID, reason string) error

	// Reinstate makes an inactive chat eligible again
	Reinstate(ctx context.Context, chatID string) error
}

// MessageRepo is the message store interface
type MessageRepo interface {
	// IngestMessages inserts messages, ignoring ones already stored.
	// Returns the number actually inserted.
	IngestMessages(ctx context.Context, chatID string, msgs []*domain.Message) (int, error)

	// MessagesInWindow returns messages with start <= ts < end, oldest first
	MessagesInWindow(ctx context.Context, chatID string, start, end time.Time) ([]*domain.Message, error)

	// DeleteBefore removes messages older than the given time
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
