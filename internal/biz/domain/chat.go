package domain

import "time"

// ChatKind represents the type of a chat on the platform
type ChatKind string

const (
	ChatKindDirect  ChatKind = "direct"
	ChatKindGroup   ChatKind = "group"
	ChatKindChannel ChatKind = "channel"
)

// ParseChatKind maps a stored or platform value to a ChatKind, defaulting to group
func ParseChatKind(s string) ChatKind {
	switch ChatKind(s) {
	case ChatKindDirect, ChatKindChannel:
		return ChatKind(s)
	}
	return ChatKindGroup
}

// Chat represents a known conversation
type Chat struct {
	ChatID         string
	Title          string
	Kind           ChatKind
	IsWork         bool   // Cached result of the last classification
	Cursor         Cursor // Newest message already ingested
	Active         bool
	InactiveReason string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ChatInfo is what the platform reports about a chat on discovery
type ChatInfo struct {
	ChatID string
	Title  string
	Kind   ChatKind
}
