package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/repo"
)

// FilterUsecase handles filter rules and chat classification
type FilterUsecase struct {
	filterRepo  repo.FilterRepo
	chatRepo    repo.ChatRepo
	messageRepo repo.MessageRepo
}

// NewFilterUsecase creates a new filter usecase
func NewFilterUsecase(
	filterRepo repo.FilterRepo,
	chatRepo repo.ChatRepo,
	messageRepo repo.MessageRepo,
) *FilterUsecase {
	return &FilterUsecase{
		filterRepo:  filterRepo,
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
	}
}

// LoadFilters returns the current rule set
func (uc *FilterUsecase) LoadFilters(ctx context.Context) ([]domain.Filter, error) {
	return uc.filterRepo.ListFilters(ctx)
}

// ClassifyChat re-evaluates a chat against the filters using its text in
// [end-lookback, end), caching the result on the chat when it changes.
func (uc *FilterUsecase) ClassifyChat(
	ctx context.Context,
	chat *domain.Chat,
	filters []domain.Filter,
	end time.Time,
	lookback time.Duration,
) (bool, error) {
	var recent []string
	if lookback > 0 {
		msgs, err := uc.messageRepo.MessagesInWindow(ctx, chat.ChatID, end.Add(-lookback), end)
		if err != nil {
			return false, err
		}
		recent = make([]string, 0, len(msgs))
		for _, m := range msgs {
			recent = append(recent, m.Text)
		}
	}

	isWork := domain.Classify(domain.ClassifyInput{
		ChatID:     chat.ChatID,
		Title:      chat.Title,
		RecentText: recent,
	}, filters)

	if isWork != chat.IsWork {
		if err := uc.chatRepo.SetWork(ctx, chat.ChatID, isWork); err != nil {
			return false, err
		}
		chat.IsWork = isWork
	}
	return isWork, nil
}

// AddFilter adds a rule; the value is trimmed and must be non-empty
func (uc *FilterUsecase) AddFilter(ctx context.Context, kind domain.FilterKind, value string) (*domain.Filter, error) {
	value = strings.TrimSpace(value)
	if !kind.Valid() || value == "" {
		return nil, fmt.Errorf("%w: kind=%q value=%q", domain.ErrInvalidFilter, kind, value)
	}
	return uc.filterRepo.AddFilter(ctx, kind, value)
}

// RemoveFilter removes a rule, returning whether it existed
func (uc *FilterUsecase) RemoveFilter(ctx context.Context, kind domain.FilterKind, value string) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("%w: kind=%q", domain.ErrInvalidFilter, kind)
	}
	return uc.filterRepo.RemoveFilter(ctx, kind, strings.TrimSpace(value))
}

// ListFilters lists all rules
func (uc *FilterUsecase) ListFilters(ctx context.Context) ([]domain.Filter, error) {
	return uc.filterRepo.ListFilters(ctx)
}

// ReinstateChat makes a chat deactivated by a permanent fetch error eligible again
func (uc *FilterUsecase) ReinstateChat(ctx context.Context, chatID string) error {
	return uc.chatRepo.Reinstate(ctx, chatID)
}

// SeedFilters adds configured rules, skipping ones already present
func (uc *FilterUsecase) SeedFilters(ctx context.Context, seeds []domain.Filter) error {
	for _, f := range seeds {
		if _, err := uc.AddFilter(ctx, f.Kind, f.Value); err != nil {
			return fmt.Errorf("seed filter %s=%s: %w", f.Kind, f.Value, err)
		}
	}
	return nil
}
