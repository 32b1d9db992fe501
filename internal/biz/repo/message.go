package repo

import (
	"context"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
)

// PlatformRepo is the messaging platform interface
// Fetches chats and messages from the platform API, does not rely on local storage
type PlatformRepo interface {
	// ListChats lists chats visible to the bot
	ListChats(ctx context.Context) ([]domain.ChatInfo, error)

	// FetchNewMessages returns messages strictly after the cursor, oldest first.
	// Failures are reported as *domain.FetchError.
	FetchNewMessages(ctx context.Context, chatID string, since domain.Cursor) ([]domain.RawMessage, error)
}
