package repo

import (
	"context"
	"time"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
)

// RunRepo is the run bookkeeping interface
type RunRepo interface {
	// OpenRun creates a run in OPEN state held by the lease.
	// Returns domain.ErrDuplicateWindow if the window overlaps any non-failed run.
	OpenRun(ctx context.Context, window domain.Window, ranAt time.Time, lease domain.Lease) (*domain.Run, error)

	// ClaimRun hands an unfinished run to the lease owner.
	// Returns domain.ErrRunLeased if the run is terminal or another owner's lease is live at now.
	ClaimRun(ctx context.Context, runID string, lease domain.Lease, now time.Time) (*domain.Run, error)

	// RenewLease extends the owner's lease; domain.ErrLeaseLost if the run moved on without it
	RenewLease(ctx context.Context, runID string, lease domain.Lease) error

	// ReleaseRun expires the owner's lease without changing the run status
	ReleaseRun(ctx context.Context, runID, owner string) error

	// GetRun returns domain.ErrRunNotFound when the run is unknown
	GetRun(ctx context.Context, runID string) (*domain.Run, error)

	// UpdateStatus applies a state transition, validating it against the current state.
	// Returns domain.ErrLeaseLost when the run is held by a different owner.
	UpdateStatus(ctx context.Context, runID, owner string, status domain.RunStatus, errMsg string) error

	// CloseRun marks the run closed and advances the last closed window end atomically.
	// Returns domain.ErrLeaseLost when the run is held by a different owner.
	CloseRun(ctx context.Context, runID, owner string, closedAt time.Time) error

	// ListRuns lists the most recent runs, newest first
	ListRuns(ctx context.Context, limit int) ([]*domain.Run, error)

	// UnfinishedRuns lists runs not yet closed or failed, oldest window first
	UnfinishedRuns(ctx context.Context) ([]*domain.Run, error)

	// LastClosedWindowEnd returns the persisted end of the latest closed window
	LastClosedWindowEnd(ctx context.Context) (time.Time, bool, error)

	// RecordOutcome stores a chat's terminal outcome for a run
	RecordOutcome(ctx context.Context, outcome *domain.ChatOutcome) error

	// Outcomes lists recorded outcomes for a run
	Outcomes(ctx context.Context, runID string) ([]*domain.ChatOutcome, error)

	// DeleteRunsBefore removes terminal runs whose window ended before the given time
	DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error)
}

// ReportRepo is the report store interface
type ReportRepo interface {
	// CommitReport inserts a report atomically.
	// Returns domain.ErrDuplicateReport if one exists for the (run, chat) pair.
	CommitReport(ctx context.Context, report *domain.Report) error

	// ReportsByRun lists reports of one run
	ReportsByRun(ctx context.Context, runID string) ([]*domain.Report, error)

	// ReportsByChat lists a chat's reports for runs whose window starts in [from, to)
	ReportsByChat(ctx context.Context, chatID string, from, to time.Time) ([]*domain.Report, error)

	// TokenUsageByDay aggregates tokens per UTC day of the run window start in [from, to)
	TokenUsageByDay(ctx context.Context, from, to time.Time) ([]domain.TokenUsage, error)
}
