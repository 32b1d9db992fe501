package domain

import (
	"strconv"
	"strings"
	"time"
)

// RawMessage is a message as returned by the platform, before storage
type RawMessage struct {
	PlatformMessageID string
	Sender            string
	Text              string
	Timestamp         time.Time
	RawJSON           string // Original platform payload, kept for audit
}

// Message represents a stored message
type Message struct {
	ID                int64
	ChatID            string
	PlatformMessageID string
	Sender            string
	Text              string
	Timestamp         time.Time
	IsBusiness        bool
	RawJSON           string
	CreatedAt         time.Time
}

// Cursor marks the newest ingested position in a chat.
// A zero Cursor means nothing has been ingested yet.
type Cursor struct {
	MessageID string
	At        time.Time
}

// IsZero reports whether the cursor has never been set
func (c Cursor) IsZero() bool {
	return c.MessageID == "" && c.At.IsZero()
}

// Before reports whether c is strictly older than other under platform ordering
func (c Cursor) Before(other Cursor) bool {
	return ComparePosition(c.At, c.MessageID, other.At, other.MessageID) < 0
}

// CursorOf returns the cursor position of a raw message
func CursorOf(m RawMessage) Cursor {
	return Cursor{MessageID: m.PlatformMessageID, At: m.Timestamp}
}

// ComparePosition orders two messages by timestamp, then by message id.
// Ids are compared numerically when both parse as integers, lexically otherwise.
func ComparePosition(aAt time.Time, aID string, bAt time.Time, bID string) int {
	if aAt.Before(bAt) {
		return -1
	}
	if aAt.After(bAt) {
		return 1
	}
	return CompareMessageIDs(aID, bID)
}

// CompareMessageIDs compares two platform message ids
func CompareMessageIDs(a, b string) int {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// IsBusinessText scores text against work and personal keyword lists.
// The text is business when it hits more work keywords than personal ones.
func IsBusinessText(text string, workKeywords, personalKeywords []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	return countHits(lower, workKeywords) > countHits(lower, personalKeywords)
}

func countHits(lower string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}
