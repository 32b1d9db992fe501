package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/repo"
	"github.com/DevRickLin/chat-digest/internal/logger"
	"github.com/DevRickLin/chat-digest/internal/metrics"
)

// ErrRunNotClosed is returned when a digest is requested for a run still in progress
var ErrRunNotClosed = errors.New("run is not closed")

// DeliveryConfig contains digest delivery settings
type DeliveryConfig struct {
	Target   domain.DigestTarget
	MaxItems int // Per summary, risk and action list; 0 keeps all
}

// ChatStats counts a chat's stored messages within a run window
type ChatStats struct {
	Messages int
	Business int
}

// DeliveryUsecase turns closed runs into digests and sends them
type DeliveryUsecase struct {
	runRepo     repo.RunRepo
	reportRepo  repo.ReportRepo
	chatRepo    repo.ChatRepo
	messageRepo repo.MessageRepo
	notifier    repo.NotifierRepo
	config      DeliveryConfig
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewDeliveryUsecase creates a new delivery usecase. The notifier may be nil,
// in which case digests can still be built but not sent.
func NewDeliveryUsecase(
	runRepo repo.RunRepo,
	reportRepo repo.ReportRepo,
	chatRepo repo.ChatRepo,
	messageRepo repo.MessageRepo,
	notifier repo.NotifierRepo,
	config DeliveryConfig,
	m *metrics.Metrics,
) *DeliveryUsecase {
	if config.Target.IDType == "" {
		config.Target.IDType = "chat_id"
	}
	return &DeliveryUsecase{
		runRepo:     runRepo,
		reportRepo:  reportRepo,
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		notifier:    notifier,
		config:      config,
		metrics:     m,
		logger:      logger.Component("Delivery"),
	}
}

// Enabled reports whether closed runs are delivered automatically
func (uc *DeliveryUsecase) Enabled() bool {
	return uc != nil && uc.notifier != nil && uc.config.Target.ID != ""
}

// BuildRunDigest assembles the digest of a closed run
func (uc *DeliveryUsecase) BuildRunDigest(ctx context.Context, runID string) (*domain.Digest, error) {
	run, err := uc.runRepo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunStatusClosed {
		return nil, fmt.Errorf("%w: run %s is %s", ErrRunNotClosed, run.ID, run.Status)
	}
	reports, err := uc.reportRepo.ReportsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	outcomes, err := uc.runRepo.Outcomes(ctx, runID)
	if err != nil {
		return nil, err
	}

	titles := make(map[string]string)
	stats := make(map[string]ChatStats)
	for _, o := range outcomes {
		chat, err := uc.chatRepo.GetChat(ctx, o.ChatID)
		switch {
		case errors.Is(err, domain.ErrChatNotFound):
			titles[o.ChatID] = o.ChatID
		case err != nil:
			return nil, err
		default:
			titles[o.ChatID] = chat.Title
		}

		if o.Kind != domain.OutcomeReported {
			continue
		}
		msgs, err := uc.messageRepo.MessagesInWindow(ctx, o.ChatID, run.Window.Start, run.Window.End)
		if err != nil {
			return nil, err
		}
		s := ChatStats{Messages: len(msgs)}
		for _, m := range msgs {
			if m.IsBusiness {
				s.Business++
			}
		}
		stats[o.ChatID] = s
	}

	return BuildDigest(run, reports, outcomes, titles, stats, uc.config.MaxItems), nil
}

// DeliverRun sends the digest of a closed run to the configured target.
// Runs with nothing reported or failed are not sent; sent reports whether a
// message went out.
func (uc *DeliveryUsecase) DeliverRun(ctx context.Context, runID string) (sent bool, err error) {
	digest, err := uc.BuildRunDigest(ctx, runID)
	if err != nil {
		return false, err
	}
	if digest.Empty() {
		uc.metrics.DigestDelivered("empty")
		uc.logger.Debug().Str("run_id", runID).Msg("Nothing to deliver")
		return false, nil
	}
	if err := uc.Send(ctx, digest); err != nil {
		return false, fmt.Errorf("deliver run %s: %w", runID, err)
	}
	uc.logger.Info().Str("run_id", runID).Str("target", uc.config.Target.ID).Msg("Digest delivered")
	return true, nil
}

// Send delivers a digest to the configured target
func (uc *DeliveryUsecase) Send(ctx context.Context, digest *domain.Digest) error {
	if !uc.Enabled() {
		return errors.New("no digest target configured")
	}
	if err := uc.notifier.SendDigest(ctx, uc.config.Target, digest); err != nil {
		uc.metrics.DigestDelivered("failed")
		return err
	}
	uc.metrics.DigestDelivered("sent")
	return nil
}

// BuildDigest lays out a run's reports and failures. Chats are ordered by title;
// titles maps chat ids to display names and stats holds per-chat message counts.
func BuildDigest(
	run *domain.Run,
	reports []*domain.Report,
	outcomes []*domain.ChatOutcome,
	titles map[string]string,
	stats map[string]ChatStats,
	maxItems int,
) *domain.Digest {
	title := func(chatID string) string {
		if t := titles[chatID]; t != "" {
			return t
		}
		return chatID
	}

	var counts RunSummary
	for _, o := range outcomes {
		counts.add(o.Kind)
	}
	var total ChatStats
	for _, s := range stats {
		total.Messages += s.Messages
		total.Business += s.Business
	}
	var promptTokens, completionTokens int
	for _, r := range reports {
		promptTokens += r.PromptTokens
		completionTokens += r.CompletionTokens
	}

	d := &domain.Digest{
		Title: fmt.Sprintf("Chat digest %s to %s UTC",
			run.Window.Start.UTC().Format("2006-01-02 15:04"), run.Window.End.UTC().Format("15:04")),
		Overview: []string{
			fmt.Sprintf("Chats: %d reported, %d quiet, %d failed, %d unreachable",
				counts.Reported, counts.Skipped, counts.Failed, counts.IngestFailed),
			fmt.Sprintf("Messages: %d, %d business", total.Messages, total.Business),
			fmt.Sprintf("Tokens: %d prompt, %d completion", promptTokens, completionTokens),
		},
	}

	sorted := append([]*domain.Report(nil), reports...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return title(sorted[i].ChatID) < title(sorted[j].ChatID)
	})
	for _, r := range sorted {
		s := stats[r.ChatID]
		section := domain.DigestSection{
			Heading: fmt.Sprintf("%s (%d messages, %d business)", title(r.ChatID), s.Messages, s.Business),
		}
		section.Lines = appendItems(section.Lines, "Summary", r.Summary, maxItems, false)
		section.Lines = appendItems(section.Lines, "Risks", r.Risks, maxItems, false)
		section.Lines = appendItems(section.Lines, "Actions", r.Actions, maxItems, true)
		d.Sections = append(d.Sections, section)
	}

	var failures []string
	for _, o := range outcomes {
		if o.Kind != domain.OutcomeFailed && o.Kind != domain.OutcomeIngestFailed {
			continue
		}
		line := fmt.Sprintf("%s: %s", title(o.ChatID), o.Kind)
		if o.Detail != "" {
			line += " (" + o.Detail + ")"
		}
		failures = append(failures, line)
	}
	if len(failures) > 0 {
		sort.Strings(failures)
		d.Sections = append(d.Sections, domain.DigestSection{Heading: "Not reported", Lines: failures})
	}
	return d
}

// appendItems adds a labelled list, keeping at most limit items
func appendItems(lines []string, label string, items []string, limit int, numbered bool) []string {
	if len(items) == 0 {
		return lines
	}
	lines = append(lines, label+":")
	shown := items
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for i, item := range shown {
		if numbered {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, item))
		} else {
			lines = append(lines, "- "+item)
		}
	}
	if hidden := len(items) - len(shown); hidden > 0 {
		lines = append(lines, fmt.Sprintf("(%d more)", hidden))
	}
	return lines
}
