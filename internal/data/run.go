package data

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/oklog/ulid/v2"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/repo"
)

// runRepo implements run bookkeeping
type runRepo struct {
	db *sql.DB
}

// NewRunRepo creates a new run repository
func NewRunRepo(db *sql.DB) repo.RunRepo {
	return &runRepo{db: db}
}

func newRunID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}

const runColumns = `id, window_start, window_end, ran_at, status, error, closed_at, owner, lease_until`

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var start, end, ranAt, closedAt, leaseUntil int64
	var status string
	if err := row.Scan(&run.ID, &start, &end, &ranAt, &status, &run.Error, &closedAt, &run.Lease.Owner, &leaseUntil); err != nil {
		return nil, err
	}
	run.Window = domain.Window{Start: fromMillis(start), End: fromMillis(end)}
	run.RanAt = fromMillis(ranAt)
	run.Status = domain.RunStatus(status)
	run.ClosedAt = fromMillis(closedAt)
	run.Lease.Until = fromMillis(leaseUntil)
	return &run, nil
}

// OpenRun creates a run held by the lease after checking for overlapping
// non-failed runs. The check and insert share one immediate transaction.
func (r *runRepo) OpenRun(ctx context.Context, window domain.Window, ranAt time.Time, lease domain.Lease) (*domain.Run, error) {
	if !window.Valid() {
		return nil, domain.ErrInvalidWindow
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var overlapping int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM runs
		WHERE status != ? AND window_start < ? AND window_end > ?
	`, string(domain.RunStatusFailed), window.End.UnixMilli(), window.Start.UnixMilli()).Scan(&overlapping)
	if err != nil {
		return nil, fmt.Errorf("failed to check overlapping runs: %w", err)
	}
	if overlapping > 0 {
		return nil, domain.ErrDuplicateWindow
	}

	run := &domain.Run{
		ID:     newRunID(ranAt),
		Window: domain.Window{Start: window.Start.UTC(), End: window.End.UTC()},
		RanAt:  ranAt.UTC(),
		Status: domain.RunStatusOpen,
		Lease:  domain.Lease{Owner: lease.Owner, Until: lease.Until.UTC()},
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, window_start, window_end, ran_at, status, owner, lease_until) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, window.Start.UnixMilli(), window.End.UnixMilli(), ranAt.UnixMilli(), string(run.Status),
		lease.Owner, toMillis(lease.Until))
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}
	return run, nil
}

// GetRun gets a run by ID
func (r *runRepo) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return getRun(ctx, r.db, runID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRun(ctx context.Context, q queryRower, runID string) (*domain.Run, error) {
	row := q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// ClaimRun takes over an unfinished run whose lease is free, expired or
// already held by the same owner
func (r *runRepo) ClaimRun(ctx context.Context, runID string, lease domain.Lease, now time.Time) (*domain.Run, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	run, err := getRun(ctx, tx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: run %s is %s", domain.ErrRunLeased, runID, run.Status)
	}
	if run.Lease.Owner != lease.Owner && run.Lease.HeldAt(now) {
		return nil, fmt.Errorf("%w: run %s held by %s until %s", domain.ErrRunLeased, runID, run.Lease.Owner, run.Lease.Until.Format(time.RFC3339))
	}

	_, err = tx.ExecContext(ctx, `UPDATE runs SET owner = ?, lease_until = ? WHERE id = ?`,
		lease.Owner, toMillis(lease.Until), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	run.Lease = domain.Lease{Owner: lease.Owner, Until: lease.Until.UTC()}
	return run, nil
}

// RenewLease extends the lease of an unfinished run still held by the owner
func (r *runRepo) RenewLease(ctx context.Context, runID string, lease domain.Lease) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE runs SET lease_until = ?
		WHERE id = ? AND owner = ? AND status NOT IN (?, ?)
	`, toMillis(lease.Until), runID, lease.Owner, string(domain.RunStatusClosed), string(domain.RunStatusFailed))
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: run %s", domain.ErrLeaseLost, runID)
	}
	return nil
}

// ReleaseRun expires the owner's lease so another coordinator can resume the run at once
func (r *runRepo) ReleaseRun(ctx context.Context, runID, owner string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE runs SET lease_until = 0 WHERE id = ? AND owner = ?`, runID, owner)
	if err != nil {
		return fmt.Errorf("failed to release run: %w", err)
	}
	return nil
}

// UpdateStatus moves a run to a new state if the owner still holds it and the
// transition is allowed
func (r *runRepo) UpdateStatus(ctx context.Context, runID, owner string, status domain.RunStatus, errMsg string) error {
	if status == domain.RunStatusClosed {
		return r.CloseRun(ctx, runID, owner, time.Now())
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	run, err := getRun(ctx, tx, runID)
	if err != nil {
		return err
	}
	if run.Lease.Owner != owner {
		return fmt.Errorf("%w: run %s now held by %s", domain.ErrLeaseLost, runID, run.Lease.Owner)
	}
	if !run.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, run.Status, status)
	}

	_, err = tx.ExecContext(ctx, `UPDATE runs SET status = ?, error = ? WHERE id = ?`, string(status), errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return tx.Commit()
}

// CloseRun closes the run and advances the last closed window end
func (r *runRepo) CloseRun(ctx context.Context, runID, owner string, closedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	run, err := getRun(ctx, tx, runID)
	if err != nil {
		return err
	}
	if run.Lease.Owner != owner {
		return fmt.Errorf("%w: run %s now held by %s", domain.ErrLeaseLost, runID, run.Lease.Owner)
	}
	if !run.Status.CanTransition(domain.RunStatusClosed) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, run.Status, domain.RunStatusClosed)
	}

	_, err = tx.ExecContext(ctx, `UPDATE runs SET status = ?, closed_at = ? WHERE id = ?`,
		string(domain.RunStatusClosed), closedAt.UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("failed to close run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = MAX(value, excluded.value)
	`, stateLastClosedWindowEnd, run.Window.End.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to persist last closed window: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run close: %w", err)
	}
	return nil
}

// ListRuns lists the latest runs
func (r *runRepo) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	builder := sq.Select(runColumns).From("runs").OrderBy("window_start DESC", "ran_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return r.queryRuns(ctx, builder)
}

// UnfinishedRuns lists runs that are neither closed nor failed
func (r *runRepo) UnfinishedRuns(ctx context.Context) ([]*domain.Run, error) {
	builder := sq.Select(runColumns).From("runs").
		Where(sq.NotEq{"status": []string{string(domain.RunStatusClosed), string(domain.RunStatusFailed)}}).
		OrderBy("window_start ASC")
	return r.queryRuns(ctx, builder)
}

func (r *runRepo) queryRuns(ctx context.Context, builder sq.SelectBuilder) ([]*domain.Run, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build runs query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LastClosedWindowEnd reads the persisted end of the latest closed window
func (r *runRepo) LastClosedWindowEnd(ctx context.Context) (time.Time, bool, error) {
	var ms int64
	err := r.db.QueryRowContext(ctx, `SELECT value FROM pipeline_state WHERE key = ?`, stateLastClosedWindowEnd).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read pipeline state: %w", err)
	}
	return fromMillis(ms), true, nil
}

// RecordOutcome stores a chat's terminal outcome; recording the same outcome twice is a no-op
func (r *runRepo) RecordOutcome(ctx context.Context, outcome *domain.ChatOutcome) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO run_chat_outcomes (run_id, chat_id, outcome, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, chat_id) DO NOTHING
	`, outcome.RunID, outcome.ChatID, string(outcome.Kind), outcome.Detail, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// Outcomes lists outcomes recorded for a run
func (r *runRepo) Outcomes(ctx context.Context, runID string) ([]*domain.ChatOutcome, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, chat_id, outcome, detail, created_at
		FROM run_chat_outcomes WHERE run_id = ? ORDER BY chat_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*domain.ChatOutcome
	for rows.Next() {
		var o domain.ChatOutcome
		var kind string
		var createdAt int64
		if err := rows.Scan(&o.RunID, &o.ChatID, &kind, &o.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Kind = domain.OutcomeKind(kind)
		o.CreatedAt = fromMillis(createdAt)
		outcomes = append(outcomes, &o)
	}
	return outcomes, rows.Err()
}

// DeleteRunsBefore removes terminal runs (with their reports and outcomes) whose window ended before the cutoff
func (r *runRepo) DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM runs WHERE window_end < ? AND status IN (?, ?)
	`, before.UnixMilli(), string(domain.RunStatusClosed), string(domain.RunStatusFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return res.RowsAffected()
}
