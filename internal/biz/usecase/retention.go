package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/DevRickLin/chat-digest/internal/biz/repo"
	"github.com/DevRickLin/chat-digest/internal/logger"
)

// RetentionConfig contains cleanup horizons; zero keeps data forever
type RetentionConfig struct {
	MessageAge time.Duration
	RunAge     time.Duration
}

// RetentionResult counts what a cleanup pass removed
type RetentionResult struct {
	Messages int64
	Runs     int64
}

// RetentionUsecase deletes data older than the configured horizons
type RetentionUsecase struct {
	messageRepo repo.MessageRepo
	runRepo     repo.RunRepo
	config      RetentionConfig
	logger      zerolog.Logger
}

// NewRetentionUsecase creates a new retention usecase
func NewRetentionUsecase(messageRepo repo.MessageRepo, runRepo repo.RunRepo, config RetentionConfig) *RetentionUsecase {
	return &RetentionUsecase{
		messageRepo: messageRepo,
		runRepo:     runRepo,
		config:      config,
		logger:      logger.Component("Retention"),
	}
}

// Cleanup removes messages and terminal runs (with their reports and outcomes)
// older than the horizons. Running it twice removes nothing the second time.
func (uc *RetentionUsecase) Cleanup(ctx context.Context, now time.Time) (*RetentionResult, error) {
	result := &RetentionResult{}

	if uc.config.MessageAge > 0 {
		n, err := uc.messageRepo.DeleteBefore(ctx, now.Add(-uc.config.MessageAge))
		if err != nil {
			return nil, fmt.Errorf("delete old messages: %w", err)
		}
		result.Messages = n
	}

	if uc.config.RunAge > 0 {
		n, err := uc.runRepo.DeleteRunsBefore(ctx, now.Add(-uc.config.RunAge))
		if err != nil {
			return nil, fmt.Errorf("delete old runs: %w", err)
		}
		result.Runs = n
	}

	if result.Messages > 0 || result.Runs > 0 {
		uc.logger.Info().Int64("messages", result.Messages).Int64("runs", result.Runs).Msg("Cleanup done")
	}
	return result, nil
}
