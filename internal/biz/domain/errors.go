package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateWindow   = errors.New("window overlaps an existing run")
	ErrDuplicateReport   = errors.New("report already exists for run and chat")
	ErrInvalidWindow     = errors.New("window end must be after start")
	ErrInvalidTransition = errors.New("invalid run status transition")
	ErrRunNotFound       = errors.New("run not found")
	ErrRunLeased         = errors.New("run is finished or driven by another coordinator")
	ErrLeaseLost         = errors.New("run lease held by another coordinator")
	ErrChatNotFound      = errors.New("chat not found")
	ErrRunIncomplete     = errors.New("run has chats without a terminal outcome")
	ErrMalformedResponse = errors.New("malformed summarizer response")
	ErrRateLimited       = errors.New("rate limited")
	ErrInvalidFilter     = errors.New("invalid filter")
)

// FetchError is returned by the platform when fetching a chat fails.
// Permanent errors (chat gone, access revoked) deactivate the chat;
// everything else is retried.
type FetchError struct {
	ChatID    string
	Permanent bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("fetch chat %s (%s): %v", e.ChatID, kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsPermanentFetchError reports whether err carries a permanent FetchError
func IsPermanentFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Permanent
}
