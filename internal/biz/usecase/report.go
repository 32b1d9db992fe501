package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/repo"
)

const defaultRunListLimit = 20

// ErrInvalidRange is returned for unparsable or empty query ranges
var ErrInvalidRange = errors.New("invalid time range")

// RunReports is a run together with everything it produced
type RunReports struct {
	Run      *domain.Run
	Reports  []*domain.Report
	Outcomes []*domain.ChatOutcome
}

// ReportUsecase is the read-only query surface shared by the API, MCP and CLI
type ReportUsecase struct {
	runRepo     repo.RunRepo
	reportRepo  repo.ReportRepo
	chatRepo    repo.ChatRepo
	messageRepo repo.MessageRepo
}

// NewReportUsecase creates a new report query usecase
func NewReportUsecase(runRepo repo.RunRepo, reportRepo repo.ReportRepo, chatRepo repo.ChatRepo, messageRepo repo.MessageRepo) *ReportUsecase {
	return &ReportUsecase{
		runRepo:     runRepo,
		reportRepo:  reportRepo,
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
	}
}

// ListRuns lists recent runs, newest first
func (uc *ReportUsecase) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	return uc.runRepo.ListRuns(ctx, limit)
}

// GetRun returns a single run
func (uc *ReportUsecase) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return uc.runRepo.GetRun(ctx, runID)
}

// RunReports returns a run with its reports and chat outcomes
func (uc *ReportUsecase) RunReports(ctx context.Context, runID string) (*RunReports, error) {
	run, err := uc.runRepo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	reports, err := uc.reportRepo.ReportsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	outcomes, err := uc.runRepo.Outcomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunReports{Run: run, Reports: reports, Outcomes: outcomes}, nil
}

// ChatReports lists a chat's reports for runs whose window starts in [from, to)
func (uc *ReportUsecase) ChatReports(ctx context.Context, chatID string, from, to time.Time) ([]*domain.Report, error) {
	if _, err := uc.chatRepo.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	return uc.reportRepo.ReportsByChat(ctx, chatID, from, to)
}

// ChatMessages returns a chat's stored messages with timestamps in [from, to), oldest first
func (uc *ReportUsecase) ChatMessages(ctx context.Context, chatID string, from, to time.Time) ([]*domain.Message, error) {
	if _, err := uc.chatRepo.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	return uc.messageRepo.MessagesInWindow(ctx, chatID, from, to)
}

// TokenUsage aggregates token usage per UTC day in [from, to)
func (uc *ReportUsecase) TokenUsage(ctx context.Context, from, to time.Time) ([]domain.TokenUsage, error) {
	return uc.reportRepo.TokenUsageByDay(ctx, from, to)
}

// ListChats lists known chats
func (uc *ReportUsecase) ListChats(ctx context.Context, activeOnly bool) ([]*domain.Chat, error) {
	return uc.chatRepo.ListChats(ctx, activeOnly)
}

// DefaultRangeDays is the query range used when none is given
const DefaultRangeDays = 7

// ResolveRange parses optional from/to arguments (RFC 3339 or YYYY-MM-DD, UTC).
// Missing bounds default to the last DefaultRangeDays whole days up to tomorrow.
func ResolveRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	end := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	start := end.AddDate(0, 0, -DefaultRangeDays)

	var err error
	if from != "" {
		if start, err = ParseTimeArg(from); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if to != "" {
		if end, err = ParseTimeArg(to); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from %s is not before to %s", ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}

// ParseTimeArg parses an RFC 3339 timestamp or a YYYY-MM-DD day in UTC
func ParseTimeArg(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is neither RFC 3339 nor YYYY-MM-DD", ErrInvalidRange, s)
	}
	return t, nil
}
