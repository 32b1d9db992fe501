package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/repo"
	"github.com/DevRickLin/chat-digest/internal/logger"
	"github.com/DevRickLin/chat-digest/internal/metrics"
)

// IngestConfig contains ingestion settings
type IngestConfig struct {
	Retries          int           // Fetch attempts per chat per run
	Backoff          time.Duration // Delay before the second attempt, doubled after each failure
	WorkKeywords     []string
	PersonalKeywords []string
}

// IngestResult describes how ingestion went for one chat
type IngestResult struct {
	ChatID      string
	Fetched     int
	Inserted    int
	Advanced    bool
	Skipped     bool // Transient failures exhausted the retries
	Deactivated bool // Permanent failure, chat marked inactive
	Err         error
}

// IngestUsecase pulls new messages from the platform into the message store
type IngestUsecase struct {
	chatRepo     repo.ChatRepo
	messageRepo  repo.MessageRepo
	platformRepo repo.PlatformRepo
	config       IngestConfig
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewIngestUsecase creates a new ingestion usecase
func NewIngestUsecase(
	chatRepo repo.ChatRepo,
	messageRepo repo.MessageRepo,
	platformRepo repo.PlatformRepo,
	config IngestConfig,
	m *metrics.Metrics,
) *IngestUsecase {
	if config.Retries < 1 {
		config.Retries = 1
	}
	return &IngestUsecase{
		chatRepo:     chatRepo,
		messageRepo:  messageRepo,
		platformRepo: platformRepo,
		config:       config,
		metrics:      m,
		logger:       logger.Component("Ingest"),
		sleep:        sleepContext,
	}
}

// DiscoverChats registers every chat the platform reports.
// Existing chats keep their cursor, classification and active flag.
func (uc *IngestUsecase) DiscoverChats(ctx context.Context) (int, error) {
	infos, err := uc.platformRepo.ListChats(ctx)
	if err != nil {
		return 0, fmt.Errorf("list platform chats: %w", err)
	}
	for _, info := range infos {
		if _, err := uc.chatRepo.UpsertChat(ctx, info.ChatID, info.Title, info.Kind); err != nil {
			return 0, err
		}
	}
	return len(infos), nil
}

// IngestChat fetches and stores everything newer than the chat's cursor. A chat
// that was never ingested starts at floor instead of the beginning of its history.
// The returned error is non-nil only for storage failures; platform failures are
// reported in the result.
func (uc *IngestUsecase) IngestChat(ctx context.Context, chat *domain.Chat, extraKeywords []string, floor time.Time) (*IngestResult, error) {
	result := &IngestResult{ChatID: chat.ChatID}

	since := chat.Cursor
	if since.IsZero() {
		since = domain.Cursor{At: floor}
	}
	raws, err := uc.fetchWithRetry(ctx, chat.ChatID, since)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.Err = err
		if domain.IsPermanentFetchError(err) {
			if err := uc.chatRepo.MarkInactive(ctx, chat.ChatID, err.Error()); err != nil {
				return nil, err
			}
			result.Deactivated = true
			uc.logger.Warn().Str("chat_id", chat.ChatID).Err(err).Msg("Chat deactivated after permanent fetch error")
			return result, nil
		}
		result.Skipped = true
		uc.logger.Warn().Str("chat_id", chat.ChatID).Err(err).Int("attempts", uc.config.Retries).
			Msg("Fetch retries exhausted, skipping chat this run")
		return result, nil
	}

	result.Fetched = len(raws)
	if len(raws) == 0 {
		return result, nil
	}

	workKeywords := append(append([]string{}, uc.config.WorkKeywords...), extraKeywords...)
	msgs := make([]*domain.Message, 0, len(raws))
	newest := chat.Cursor
	for _, raw := range raws {
		msgs = append(msgs, &domain.Message{
			ChatID:            chat.ChatID,
			PlatformMessageID: raw.PlatformMessageID,
			Sender:            raw.Sender,
			Text:              raw.Text,
			Timestamp:         raw.Timestamp,
			IsBusiness:        domain.IsBusinessText(raw.Text, workKeywords, uc.config.PersonalKeywords),
			RawJSON:           raw.RawJSON,
		})
		if c := domain.CursorOf(raw); newest.Before(c) {
			newest = c
		}
	}

	inserted, err := uc.messageRepo.IngestMessages(ctx, chat.ChatID, msgs)
	if err != nil {
		return nil, err
	}
	result.Inserted = inserted
	uc.metrics.Ingested(inserted)

	// Cursor moves only after the messages are durable
	advanced, err := uc.chatRepo.AdvanceCursor(ctx, chat.ChatID, newest)
	if err != nil {
		return nil, err
	}
	result.Advanced = advanced
	if advanced {
		chat.Cursor = newest
	}

	uc.logger.Debug().Str("chat_id", chat.ChatID).Int("fetched", result.Fetched).Int("inserted", inserted).Msg("Ingested chat")
	return result, nil
}

func (uc *IngestUsecase) fetchWithRetry(ctx context.Context, chatID string, since domain.Cursor) ([]domain.RawMessage, error) {
	delay := uc.config.Backoff
	var lastErr error
	for attempt := 1; attempt <= uc.config.Retries; attempt++ {
		raws, err := uc.platformRepo.FetchNewMessages(ctx, chatID, since)
		if err == nil {
			return raws, nil
		}
		lastErr = err

		permanent := domain.IsPermanentFetchError(err)
		uc.metrics.IngestError(permanent)
		if permanent || ctx.Err() != nil {
			return nil, err
		}

		uc.logger.Debug().Str("chat_id", chatID).Int("attempt", attempt).Err(err).Msg("Fetch failed")
		if attempt < uc.config.Retries {
			if err := uc.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
		}
	}
	return nil, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
