package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/repo"
	"github.com/DevRickLin/chat-digest/internal/logger"
	"github.com/DevRickLin/chat-digest/internal/metrics"
)

// summarizeAttempts is the first call plus exactly one retry
const summarizeAttempts = 2

// AnalyzeConfig contains summarization settings
type AnalyzeConfig struct {
	SystemPrompt      string
	UserTemplate      string
	StrictInstruction string
	TruncatedMarker   string
	MaxPromptChars    int
	Timeout           time.Duration // Per summarizer call
}

// AnalyzeResult is what a worker hands back to the coordinator
type AnalyzeResult struct {
	Chat    *domain.Chat
	Outcome *domain.ChatOutcome
	Err     error // Storage failure or cancellation; Outcome is nil
}

// AnalyzeUsecase turns a chat's window slice into a committed report
type AnalyzeUsecase struct {
	messageRepo repo.MessageRepo
	reportRepo  repo.ReportRepo
	summarizer  repo.SummarizerRepo
	config      AnalyzeConfig
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

// NewAnalyzeUsecase creates a new analysis usecase
func NewAnalyzeUsecase(
	messageRepo repo.MessageRepo,
	reportRepo repo.ReportRepo,
	summarizer repo.SummarizerRepo,
	config AnalyzeConfig,
	m *metrics.Metrics,
) *AnalyzeUsecase {
	return &AnalyzeUsecase{
		messageRepo: messageRepo,
		reportRepo:  reportRepo,
		summarizer:  summarizer,
		config:      config,
		metrics:     m,
		logger:      logger.Component("Analyze"),
		now:         time.Now,
	}
}

// AnalyzeChat produces the chat's outcome for the run.
// Summarizer failures become a failed outcome; the error return is reserved for
// storage failures and cancellation, in which case nothing is committed.
func (uc *AnalyzeUsecase) AnalyzeChat(ctx context.Context, run *domain.Run, chat *domain.Chat) (*domain.ChatOutcome, error) {
	outcome := &domain.ChatOutcome{RunID: run.ID, ChatID: chat.ChatID}

	msgs, err := uc.messageRepo.MessagesInWindow(ctx, chat.ChatID, run.Window.Start, run.Window.End)
	if err != nil {
		return nil, fmt.Errorf("load window messages: %w", err)
	}
	if len(msgs) == 0 {
		outcome.Kind = domain.OutcomeSkipped
		outcome.Detail = "no messages in window"
		return outcome, nil
	}

	prompt := BuildPrompt(uc.config.UserTemplate, uc.config.TruncatedMarker, uc.config.MaxPromptChars, chat, run.Window, msgs)

	var (
		analysis         *domain.Analysis
		promptTokens     int
		completionTokens int
		lastErr          error
		strict           bool
	)
	for attempt := 1; attempt <= summarizeAttempts && analysis == nil; attempt++ {
		user := prompt
		if strict && uc.config.StrictInstruction != "" {
			user = prompt + "\n\n" + uc.config.StrictInstruction
		}

		comp, elapsed, err := uc.summarize(ctx, user)
		if ctx.Err() != nil {
			// Shutting down: the response, if any, is abandoned
			return nil, ctx.Err()
		}
		if err != nil {
			lastErr = err
			uc.logger.Warn().Str("chat_id", chat.ChatID).Int("attempt", attempt).Err(err).Msg("Summarizer call failed")
			continue
		}

		promptTokens += comp.PromptTokens
		completionTokens += comp.CompletionTokens
		uc.metrics.Summarized(elapsed, comp.PromptTokens, comp.CompletionTokens)

		parsed, err := ParseAnalysis(comp.Text)
		if err != nil {
			lastErr = err
			strict = true
			uc.logger.Warn().Str("chat_id", chat.ChatID).Int("attempt", attempt).Msg("Malformed summarizer response")
			continue
		}
		analysis = parsed
	}

	if analysis == nil {
		outcome.Kind = domain.OutcomeFailed
		outcome.Detail = lastErr.Error()
		uc.logger.Error().Str("run_id", run.ID).Str("chat_id", chat.ChatID).Err(lastErr).Msg("Summarization failed")
		return outcome, nil
	}

	report := &domain.Report{
		RunID:            run.ID,
		ChatID:           chat.ChatID,
		Summary:          analysis.Summary,
		Risks:            analysis.Risks,
		Actions:          analysis.Actions,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CreatedAt:        uc.now().UTC(),
	}
	if err := uc.reportRepo.CommitReport(ctx, report); err != nil {
		if !errors.Is(err, domain.ErrDuplicateReport) {
			return nil, fmt.Errorf("commit report: %w", err)
		}
		// Committed by an earlier attempt at this run
		uc.logger.Info().Str("run_id", run.ID).Str("chat_id", chat.ChatID).Msg("Report already committed")
		outcome.Kind = domain.OutcomeReported
		outcome.Detail = "already committed"
		return outcome, nil
	}

	outcome.Kind = domain.OutcomeReported
	outcome.Report = report
	return outcome, nil
}

func (uc *AnalyzeUsecase) summarize(ctx context.Context, user string) (*domain.Completion, time.Duration, error) {
	callCtx := ctx
	if uc.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, uc.config.Timeout)
		defer cancel()
	}
	start := time.Now()
	comp, err := uc.summarizer.Summarize(callCtx, uc.config.SystemPrompt, user)
	return comp, time.Since(start), err
}

// AnalyzeAll fans chats out to a bounded pool of workers.
// Results arrive on the returned channel, which is closed once every worker is
// done. Cancelling ctx stops handing out new chats.
func (uc *AnalyzeUsecase) AnalyzeAll(ctx context.Context, run *domain.Run, chats []*domain.Chat, workers int) <-chan AnalyzeResult {
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan *domain.Chat)
	results := make(chan AnalyzeResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chat := range jobs {
				outcome, err := uc.AnalyzeChat(ctx, run, chat)
				results <- AnalyzeResult{Chat: chat, Outcome: outcome, Err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, chat := range chats {
			select {
			case jobs <- chat:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}
