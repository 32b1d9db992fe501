package biz

import (
	"github.com/DevRickLin/chat-digest/internal/biz/usecase"
	"github.com/DevRickLin/chat-digest/internal/conf"
	"github.com/DevRickLin/chat-digest/internal/data"
	"github.com/DevRickLin/chat-digest/internal/metrics"
)

// Usecases contains all usecases
type Usecases struct {
	Ingest    *usecase.IngestUsecase
	Filter    *usecase.FilterUsecase
	Analyze   *usecase.AnalyzeUsecase
	Run       *usecase.RunUsecase
	Report    *usecase.ReportUsecase
	Delivery  *usecase.DeliveryUsecase
	Retention *usecase.RetentionUsecase
}

// NewUsecases wires usecases over the repositories.
// Ingest, Analyze and Run need the platform and summarizer repos; the query
// usecases work without them. Delivery can build digests without a notifier.
func NewUsecases(cfg *conf.Config, repos *data.Repositories, m *metrics.Metrics) *Usecases {
	uc := &Usecases{
		Filter:    usecase.NewFilterUsecase(repos.Filter, repos.Chat, repos.Message),
		Report:    usecase.NewReportUsecase(repos.Run, repos.Report, repos.Chat, repos.Message),
		Retention: usecase.NewRetentionUsecase(repos.Message, repos.Run, cfg.ToRetentionConfig()),
		Delivery: usecase.NewDeliveryUsecase(repos.Run, repos.Report, repos.Chat, repos.Message,
			repos.Notifier, cfg.ToDeliveryConfig(), m),
	}

	if repos.Platform != nil {
		uc.Ingest = usecase.NewIngestUsecase(repos.Chat, repos.Message, repos.Platform, cfg.ToIngestConfig(), m)
	}
	if repos.Summarizer != nil {
		uc.Analyze = usecase.NewAnalyzeUsecase(repos.Message, repos.Report, repos.Summarizer, cfg.ToAnalyzeConfig(), m)
	}
	if uc.Ingest != nil && uc.Analyze != nil {
		uc.Run = usecase.NewRunUsecase(repos.Run, repos.Chat, uc.Ingest, uc.Filter, uc.Analyze, uc.Delivery, cfg.ToRunConfig(), m)
	}
	return uc
}
