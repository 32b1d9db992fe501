package repo

import (
	"context"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
)

// FilterRepo is the filter rule storage interface
type FilterRepo interface {
	// AddFilter adds a rule; adding an existing (kind, value) is a no-op
	AddFilter(ctx context.Context, kind domain.FilterKind, value string) (*domain.Filter, error)

	// RemoveFilter removes a rule, returning whether it existed
	RemoveFilter(ctx context.Context, kind domain.FilterKind, value string) (bool, error)

	// ListFilters lists all rules
	ListFilters(ctx context.Context) ([]domain.Filter, error)
}

// SummarizerRepo is the language model interface
type SummarizerRepo interface {
	// Summarize sends the prompt and returns the text with token usage
	Summarize(ctx context.Context, systemPrompt, prompt string) (*domain.Completion, error)
}
