package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/usecase"
	"github.com/DevRickLin/chat-digest/internal/logger"
)

// Queries is the read-only surface the API serves
type Queries interface {
	ListRuns(ctx context.Context, limit int) ([]*domain.Run, error)
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	RunReports(ctx context.Context, runID string) (*usecase.RunReports, error)
	ChatReports(ctx context.Context, chatID string, from, to time.Time) ([]*domain.Report, error)
	ChatMessages(ctx context.Context, chatID string, from, to time.Time) ([]*domain.Message, error)
	TokenUsage(ctx context.Context, from, to time.Time) ([]domain.TokenUsage, error)
	ListChats(ctx context.Context, activeOnly bool) ([]*domain.Chat, error)
}

// Server provides the HTTP query API
type Server struct {
	queries Queries
	metrics http.Handler

	server *http.Server
	addr   string
	logger zerolog.Logger
	now    func() time.Time
}

// NewServer creates a new API server. metricsHandler may be nil.
func NewServer(queries Queries, metricsHandler http.Handler, addr string) *Server {
	return &Server{
		queries: queries,
		metrics: metricsHandler,
		addr:    addr,
		logger:  logger.Component("API"),
		now:     time.Now,
	}
}

// Handler returns the route multiplexer
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Runs
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/reports", s.handleRunReports)

	// Chats
	mux.HandleFunc("GET /api/chats", s.handleListChats)
	mux.HandleFunc("GET /api/chats/{id}/reports", s.handleChatReports)
	mux.HandleFunc("GET /api/chats/{id}/messages", s.handleChatMessages)

	// Token usage
	mux.HandleFunc("GET /api/usage", s.handleUsage)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return mux
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting HTTP server")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ============ Run Handlers ============

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	runs, err := s.queries.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"runs": NewRunViews(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.queries.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, NewRunView(run))
}

func (s *Server) handleRunReports(w http.ResponseWriter, r *http.Request) {
	rr, err := s.queries.RunReports(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, NewRunReportsView(rr))
}

// ============ Chat Handlers ============

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	chats, err := s.queries.ListChats(r.Context(), activeOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"chats": NewChatViews(chats)})
}

func (s *Server) handleChatReports(w http.ResponseWriter, r *http.Request) {
	from, to, err := usecase.ResolveRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"), s.now())
	if err != nil {
		s.writeError(w, err)
		return
	}

	reports, err := s.queries.ChatReports(r.Context(), r.PathValue("id"), from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"from":    from,
		"to":      to,
		"reports": NewReportViews(reports),
	})
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	from, to, err := usecase.ResolveRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"), s.now())
	if err != nil {
		s.writeError(w, err)
		return
	}

	msgs, err := s.queries.ChatMessages(r.Context(), r.PathValue("id"), from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"from":     from,
		"to":       to,
		"messages": NewMessageViews(msgs),
	})
}

// ============ Usage Handlers ============

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	from, to, err := usecase.ResolveRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"), s.now())
	if err != nil {
		s.writeError(w, err)
		return
	}

	usage, err := s.queries.TokenUsage(r.Context(), from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"from":  from,
		"to":    to,
		"usage": NewUsageViews(usage),
	})
}

// ============ Helpers ============

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRunNotFound), errors.Is(err, domain.ErrChatNotFound):
		status = http.StatusNotFound
	case errors.Is(err, usecase.ErrInvalidRange):
		status = http.StatusBadRequest
	default:
		s.logger.Error().Err(err).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
