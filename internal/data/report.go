package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/repo"
)

// reportRepo implements the report store
type reportRepo struct {
	db *sql.DB
}

// NewReportRepo creates a new report repository
func NewReportRepo(db *sql.DB) repo.ReportRepo {
	return &reportRepo{db: db}
}

// CommitReport inserts a report; a second report for the same run and chat is rejected
func (r *reportRepo) CommitReport(ctx context.Context, report *domain.Report) error {
	summary, err := encodeItems(report.Summary)
	if err != nil {
		return err
	}
	risks, err := encodeItems(report.Risks)
	if err != nil {
		return err
	}
	actions, err := encodeItems(report.Actions)
	if err != nil {
		return err
	}

	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO reports (run_id, chat_id, summary, risks, actions, prompt_tokens, completion_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, report.RunID, report.ChatID, summary, risks, actions,
		report.PromptTokens, report.CompletionTokens, report.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateReport
		}
		return fmt.Errorf("failed to insert report: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		report.ID = id
	}
	return nil
}

// reportSelect is the base query joining reports to their run window
func reportSelect() sq.SelectBuilder {
	return sq.Select(
		"r.id", "r.run_id", "r.chat_id", "r.summary", "r.risks", "r.actions",
		"r.prompt_tokens", "r.completion_tokens", "r.created_at",
	).From("reports r").Join("runs u ON u.id = r.run_id")
}

// ReportsByRun lists all reports of a run
func (r *reportRepo) ReportsByRun(ctx context.Context, runID string) ([]*domain.Report, error) {
	return r.queryReports(ctx, reportSelect().
		Where(sq.Eq{"r.run_id": runID}).
		OrderBy("r.chat_id"))
}

// ReportsByChat lists a chat's reports over a window-start range
func (r *reportRepo) ReportsByChat(ctx context.Context, chatID string, from, to time.Time) ([]*domain.Report, error) {
	return r.queryReports(ctx, reportSelect().
		Where(sq.Eq{"r.chat_id": chatID}).
		Where(sq.GtOrEq{"u.window_start": from.UnixMilli()}).
		Where(sq.Lt{"u.window_start": to.UnixMilli()}).
		OrderBy("u.window_start ASC"))
}

func (r *reportRepo) queryReports(ctx context.Context, builder sq.SelectBuilder) ([]*domain.Report, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build report query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []*domain.Report
	for rows.Next() {
		var rep domain.Report
		var summary, risks, actions string
		var createdAt int64
		if err := rows.Scan(&rep.ID, &rep.RunID, &rep.ChatID, &summary, &risks, &actions,
			&rep.PromptTokens, &rep.CompletionTokens, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		if rep.Summary, err = decodeItems(summary); err != nil {
			return nil, err
		}
		if rep.Risks, err = decodeItems(risks); err != nil {
			return nil, err
		}
		if rep.Actions, err = decodeItems(actions); err != nil {
			return nil, err
		}
		rep.CreatedAt = fromMillis(createdAt)
		reports = append(reports, &rep)
	}
	return reports, rows.Err()
}

// TokenUsageByDay sums tokens per UTC day of the run window start
func (r *reportRepo) TokenUsageByDay(ctx context.Context, from, to time.Time) ([]domain.TokenUsage, error) {
	day := "strftime('%Y-%m-%d', u.window_start / 1000, 'unixepoch')"
	query, args, err := sq.Select(
		day+" AS day",
		"COUNT(*)",
		"COALESCE(SUM(r.prompt_tokens), 0)",
		"COALESCE(SUM(r.completion_tokens), 0)",
	).From("reports r").Join("runs u ON u.id = r.run_id").
		Where(sq.GtOrEq{"u.window_start": from.UnixMilli()}).
		Where(sq.Lt{"u.window_start": to.UnixMilli()}).
		GroupBy("day").
		OrderBy("day ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build usage query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query token usage: %w", err)
	}
	defer rows.Close()

	var usage []domain.TokenUsage
	for rows.Next() {
		var u domain.TokenUsage
		if err := rows.Scan(&u.Day, &u.Reports, &u.PromptTokens, &u.CompletionTokens); err != nil {
			return nil, fmt.Errorf("failed to scan token usage: %w", err)
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

func encodeItems(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode report items: %w", err)
	}
	return string(b), nil
}

func decodeItems(s string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("failed to decode report items: %w", err)
	}
	return items, nil
}
