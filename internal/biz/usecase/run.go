package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/repo"
	"github.com/DevRickLin/chat-digest/internal/logger"
	"github.com/DevRickLin/chat-digest/internal/metrics"
)

// ErrCycleInProgress is returned when a cycle is requested while another is running
var ErrCycleInProgress = errors.New("run cycle already in progress")

const defaultLeaseTTL = 5 * time.Minute

// RunConfig contains run coordination settings
type RunConfig struct {
	Window           time.Duration
	StartAt          time.Time // First window start when nothing has closed yet
	Workers          int
	ClassifyLookback time.Duration
	LeaseTTL         time.Duration // How long a silent coordinator keeps its run
	Owner            string        // Lease owner name, generated when empty
}

// RunSummary counts the outcomes of one executed run
type RunSummary struct {
	Run          *domain.Run
	Reported     int
	Skipped      int
	Failed       int
	IngestFailed int
}

func (s *RunSummary) add(kind domain.OutcomeKind) {
	switch kind {
	case domain.OutcomeReported:
		s.Reported++
	case domain.OutcomeSkipped:
		s.Skipped++
	case domain.OutcomeFailed:
		s.Failed++
	case domain.OutcomeIngestFailed:
		s.IngestFailed++
	}
}

// RunUsecase coordinates runs: windows, ingestion, classification, analysis
type RunUsecase struct {
	runRepo   repo.RunRepo
	chatRepo  repo.ChatRepo
	ingestUC  *IngestUsecase
	filterUC  *FilterUsecase
	analyzeUC *AnalyzeUsecase
	delivery  *DeliveryUsecase
	config    RunConfig
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
	cycleMu   sync.Mutex
}

// NewRunUsecase creates a new run coordinator
func NewRunUsecase(
	runRepo repo.RunRepo,
	chatRepo repo.ChatRepo,
	ingestUC *IngestUsecase,
	filterUC *FilterUsecase,
	analyzeUC *AnalyzeUsecase,
	delivery *DeliveryUsecase,
	config RunConfig,
	m *metrics.Metrics,
) *RunUsecase {
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = defaultLeaseTTL
	}
	if config.Owner == "" {
		config.Owner = defaultOwner()
	}
	return &RunUsecase{
		runRepo:   runRepo,
		chatRepo:  chatRepo,
		ingestUC:  ingestUC,
		filterUC:  filterUC,
		analyzeUC: analyzeUC,
		delivery:  delivery,
		config:    config,
		metrics:   m,
		logger:    logger.Component("Run"),
		now:       time.Now,
	}
}

// defaultOwner names this process uniquely among coordinators sharing a database
func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s/%d/%s", host, os.Getpid(), ulid.Make())
}

// Owner returns the name this coordinator uses for run leases
func (uc *RunUsecase) Owner() string {
	return uc.config.Owner
}

func (uc *RunUsecase) lease() domain.Lease {
	return domain.Lease{Owner: uc.config.Owner, Until: uc.now().UTC().Add(uc.config.LeaseTTL)}
}

// RunDue resumes unfinished runs whose lease has expired, then executes every
// complete outstanding window oldest first. It stops at the first run-level failure.
func (uc *RunUsecase) RunDue(ctx context.Context) ([]*RunSummary, error) {
	if !uc.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer uc.cycleMu.Unlock()

	var summaries []*RunSummary

	if n, err := uc.ingestUC.DiscoverChats(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Known chats can still be ingested without a fresh listing
		uc.logger.Warn().Err(err).Msg("Chat discovery failed")
	} else {
		uc.logger.Debug().Int("chats", n).Msg("Chats discovered")
	}

	unfinished, err := uc.runRepo.UnfinishedRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unfinished runs: %w", err)
	}
	for _, stale := range unfinished {
		run, err := uc.runRepo.ClaimRun(ctx, stale.ID, uc.lease(), uc.now().UTC())
		if errors.Is(err, domain.ErrRunLeased) {
			uc.logger.Info().Str("run_id", stale.ID).Str("owner", stale.Lease.Owner).Msg("Run held by another coordinator, leaving it")
			continue
		}
		if err != nil {
			return summaries, fmt.Errorf("claim run %s: %w", stale.ID, err)
		}
		uc.logger.Info().Str("run_id", run.ID).Str("status", string(run.Status)).Msg("Resuming unfinished run")
		summary, err := uc.ExecuteRun(ctx, run)
		if err != nil {
			return summaries, err
		}
		summaries = append(summaries, summary)
	}

	windows, err := uc.PendingWindows(ctx)
	if err != nil {
		return summaries, err
	}
	for _, w := range windows {
		run, err := uc.OpenRun(ctx, w)
		if errors.Is(err, domain.ErrDuplicateWindow) {
			// Another process owns this window
			uc.logger.Info().Time("start", w.Start).Time("end", w.End).Msg("Window already taken, ending cycle")
			return summaries, nil
		}
		if err != nil {
			return summaries, err
		}
		summary, err := uc.ExecuteRun(ctx, run)
		if err != nil {
			return summaries, err
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// PendingWindows lists the complete windows not yet covered by a closed run
func (uc *RunUsecase) PendingWindows(ctx context.Context) ([]domain.Window, error) {
	now := uc.now().UTC()
	from, ok, err := uc.runRepo.LastClosedWindowEnd(ctx)
	if err != nil {
		return nil, fmt.Errorf("load last closed window: %w", err)
	}
	if !ok {
		from = domain.BootstrapStart(uc.config.StartAt, now, uc.config.Window)
	}
	return domain.OutstandingWindows(from, now, uc.config.Window), nil
}

// OpenRun opens a run over the window
func (uc *RunUsecase) OpenRun(ctx context.Context, w domain.Window) (*domain.Run, error) {
	if !w.Valid() {
		return nil, domain.ErrInvalidWindow
	}
	run, err := uc.runRepo.OpenRun(ctx, w, uc.now().UTC(), uc.lease())
	if err != nil {
		return nil, err
	}
	uc.logger.Info().Str("run_id", run.ID).Time("start", w.Start).Time("end", w.End).Msg("Run opened")
	return run, nil
}

// CloseRun closes the run once every eligible chat has a terminal outcome
func (uc *RunUsecase) CloseRun(ctx context.Context, run *domain.Run, eligible []string) error {
	outcomes, err := uc.runRepo.Outcomes(ctx, run.ID)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		done[o.ChatID] = true
	}
	for _, chatID := range eligible {
		if !done[chatID] {
			return fmt.Errorf("%w: chat %s", domain.ErrRunIncomplete, chatID)
		}
	}

	closedAt := uc.now().UTC()
	if err := uc.runRepo.CloseRun(ctx, run.ID, uc.config.Owner, closedAt); err != nil {
		return err
	}
	run.Status = domain.RunStatusClosed
	run.ClosedAt = closedAt
	return nil
}

// ExecuteRun drives a run held by this coordinator from its current state to
// CLOSED, renewing the lease meanwhile. Storage failures mark the run FAILED.
// Cancellation releases the lease so the next cycle resumes it. Losing the
// lease stops the run without touching its status.
func (uc *RunUsecase) ExecuteRun(ctx context.Context, run *domain.Run) (*RunSummary, error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := uc.holdLease(runCtx, run, cancel)
	summary, err := uc.execute(runCtx, run)
	stop()
	if err != nil {
		return nil, err
	}

	if uc.delivery.Enabled() {
		// The run is closed whatever happens to the digest
		if _, err := uc.delivery.DeliverRun(ctx, run.ID); err != nil {
			uc.logger.Warn().Str("run_id", run.ID).Err(err).Msg("Digest delivery failed")
		}
	}
	return summary, nil
}

// holdLease renews the run lease every third of its TTL until stop is called.
// A lost lease cancels ctx with domain.ErrLeaseLost.
func (uc *RunUsecase) holdLease(ctx context.Context, run *domain.Run, cancel context.CancelCauseFunc) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(uc.config.LeaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := uc.runRepo.RenewLease(ctx, run.ID, uc.lease())
				if errors.Is(err, domain.ErrLeaseLost) {
					cancel(err)
					return
				}
				if err != nil {
					uc.logger.Warn().Str("run_id", run.ID).Err(err).Msg("Lease renewal failed")
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (uc *RunUsecase) execute(ctx context.Context, run *domain.Run) (*RunSummary, error) {
	summary := &RunSummary{Run: run}

	done, err := uc.recordedOutcomes(ctx, run, summary)
	if err != nil {
		return nil, uc.fail(ctx, run, err)
	}

	if run.Status == domain.RunStatusOpen {
		if err := uc.transition(ctx, run, domain.RunStatusIngesting); err != nil {
			return nil, uc.fail(ctx, run, err)
		}
	}

	if run.Status == domain.RunStatusIngesting {
		if err := uc.ingestPhase(ctx, run, done, summary); err != nil {
			return nil, uc.fail(ctx, run, err)
		}
		if err := uc.transition(ctx, run, domain.RunStatusAnalyzing); err != nil {
			return nil, uc.fail(ctx, run, err)
		}
	}

	if run.Status != domain.RunStatusAnalyzing {
		return nil, fmt.Errorf("%w: cannot execute run in status %s", domain.ErrInvalidTransition, run.Status)
	}

	eligible, err := uc.analyzePhase(ctx, run, done, summary)
	if err != nil {
		return nil, uc.fail(ctx, run, err)
	}

	if err := uc.CloseRun(ctx, run, eligible); err != nil {
		return nil, uc.fail(ctx, run, err)
	}

	uc.metrics.RunFinished(string(domain.RunStatusClosed), run.Window.End)
	uc.logger.Info().
		Str("run_id", run.ID).
		Int("reported", summary.Reported).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("ingest_failed", summary.IngestFailed).
		Msg("Run closed")
	return summary, nil
}

// recordedOutcomes loads outcomes already stored for a resumed run
func (uc *RunUsecase) recordedOutcomes(ctx context.Context, run *domain.Run, summary *RunSummary) (map[string]bool, error) {
	done := make(map[string]bool)
	if run.Status == domain.RunStatusOpen {
		return done, nil
	}
	outcomes, err := uc.runRepo.Outcomes(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	for _, o := range outcomes {
		done[o.ChatID] = true
		summary.add(o.Kind)
	}
	return done, nil
}

// fetchFloor is the oldest message time a run can use: the window start, or the
// start of the classification lookback when that reaches further back
func (uc *RunUsecase) fetchFloor(run *domain.Run) time.Time {
	floor := run.Window.Start
	if lookback := run.Window.End.Add(-uc.config.ClassifyLookback); lookback.Before(floor) {
		floor = lookback
	}
	return floor
}

func (uc *RunUsecase) ingestPhase(ctx context.Context, run *domain.Run, done map[string]bool, summary *RunSummary) error {
	filters, err := uc.filterUC.LoadFilters(ctx)
	if err != nil {
		return err
	}
	keywords := domain.KeywordValues(filters)

	chats, err := uc.chatRepo.ListChats(ctx, true)
	if err != nil {
		return err
	}

	for _, chat := range chats {
		if done[chat.ChatID] {
			continue
		}
		result, err := uc.ingestUC.IngestChat(ctx, chat, keywords, uc.fetchFloor(run))
		if err != nil {
			return err
		}
		if result.Skipped {
			if err := uc.record(ctx, run, &domain.ChatOutcome{
				RunID:  run.ID,
				ChatID: chat.ChatID,
				Kind:   domain.OutcomeIngestFailed,
				Detail: result.Err.Error(),
			}, summary); err != nil {
				return err
			}
			done[chat.ChatID] = true
		}
	}
	return nil
}

// analyzePhase reclassifies chats and analyzes the eligible ones.
// It returns the chat ids that must have an outcome before the run can close.
func (uc *RunUsecase) analyzePhase(ctx context.Context, run *domain.Run, done map[string]bool, summary *RunSummary) ([]string, error) {
	filters, err := uc.filterUC.LoadFilters(ctx)
	if err != nil {
		return nil, err
	}
	chats, err := uc.chatRepo.ListChats(ctx, true)
	if err != nil {
		return nil, err
	}

	var eligible []string
	var pending []*domain.Chat
	for _, chat := range chats {
		if done[chat.ChatID] {
			continue
		}
		isWork, err := uc.filterUC.ClassifyChat(ctx, chat, filters, run.Window.End, uc.config.ClassifyLookback)
		if err != nil {
			return nil, err
		}
		if !isWork {
			continue
		}
		eligible = append(eligible, chat.ChatID)
		pending = append(pending, chat)
	}

	uc.logger.Info().Str("run_id", run.ID).Int("eligible", len(pending)).Msg("Analyzing chats")

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fatal error
	for res := range uc.analyzeUC.AnalyzeAll(workCtx, run, pending, uc.config.Workers) {
		if fatal != nil {
			continue
		}
		if res.Err != nil {
			if ctx.Err() != nil {
				continue
			}
			fatal = res.Err
			cancel()
			continue
		}
		if err := uc.record(ctx, run, res.Outcome, summary); err != nil {
			fatal = err
			cancel()
		}
	}

	if fatal != nil {
		return nil, fatal
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return eligible, nil
}

func (uc *RunUsecase) record(ctx context.Context, run *domain.Run, outcome *domain.ChatOutcome, summary *RunSummary) error {
	outcome.CreatedAt = uc.now().UTC()
	if err := uc.runRepo.RecordOutcome(ctx, outcome); err != nil {
		return fmt.Errorf("record outcome for chat %s: %w", outcome.ChatID, err)
	}
	summary.add(outcome.Kind)
	uc.metrics.ChatOutcome(string(outcome.Kind))
	return nil
}

func (uc *RunUsecase) transition(ctx context.Context, run *domain.Run, to domain.RunStatus) error {
	if err := uc.runRepo.UpdateStatus(ctx, run.ID, uc.config.Owner, to, ""); err != nil {
		return err
	}
	run.Status = to
	return nil
}

// fail marks the run FAILED unless the error is a cancellation or the run now
// belongs to another coordinator
func (uc *RunUsecase) fail(ctx context.Context, run *domain.Run, cause error) error {
	if errors.Is(cause, domain.ErrLeaseLost) || errors.Is(context.Cause(ctx), domain.ErrLeaseLost) {
		uc.logger.Warn().Str("run_id", run.ID).Err(cause).Msg("Run taken over by another coordinator, stopping")
		return fmt.Errorf("run %s: %w", run.ID, domain.ErrLeaseLost)
	}
	if ctx.Err() != nil {
		uc.logger.Info().Str("run_id", run.ID).Str("status", string(run.Status)).Msg("Run interrupted, will resume")
		if err := uc.runRepo.ReleaseRun(context.WithoutCancel(ctx), run.ID, uc.config.Owner); err != nil {
			uc.logger.Warn().Str("run_id", run.ID).Err(err).Msg("Failed to release run lease")
		}
		return ctx.Err()
	}

	uc.logger.Error().Str("run_id", run.ID).Err(cause).Msg("Run failed")
	if err := uc.runRepo.UpdateStatus(ctx, run.ID, uc.config.Owner, domain.RunStatusFailed, cause.Error()); err != nil {
		uc.logger.Error().Str("run_id", run.ID).Err(err).Msg("Failed to mark run failed")
	} else {
		run.Status = domain.RunStatusFailed
		run.Error = cause.Error()
	}
	uc.metrics.RunFinished(string(domain.RunStatusFailed), time.Time{})
	return fmt.Errorf("run %s: %w", run.ID, cause)
}
