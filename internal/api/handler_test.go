package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/usecase"
)

// MockQueries implements Queries for testing
type MockQueries struct {
	runs     []*domain.Run
	reports  []*domain.Report
	outcomes []*domain.ChatOutcome
	chats    []*domain.Chat
	messages []*domain.Message
	usage    []domain.TokenUsage

	lastFrom, lastTo time.Time
	lastLimit        int
}

func (m *MockQueries) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	m.lastLimit = limit
	return m.runs, nil
}

func (m *MockQueries) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	for _, r := range m.runs {
		if r.ID == runID {
			return r, nil
		}
	}
	return nil, domain.ErrRunNotFound
}

func (m *MockQueries) RunReports(ctx context.Context, runID string) (*usecase.RunReports, error) {
	run, err := m.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &usecase.RunReports{Run: run, Reports: m.reports, Outcomes: m.outcomes}, nil
}

func (m *MockQueries) ChatReports(ctx context.Context, chatID string, from, to time.Time) ([]*domain.Report, error) {
	m.lastFrom, m.lastTo = from, to
	for _, c := range m.chats {
		if c.ChatID == chatID {
			return m.reports, nil
		}
	}
	return nil, domain.ErrChatNotFound
}

func (m *MockQueries) ChatMessages(ctx context.Context, chatID string, from, to time.Time) ([]*domain.Message, error) {
	m.lastFrom, m.lastTo = from, to
	var out []*domain.Message
	for _, msg := range m.messages {
		if msg.ChatID == chatID && !msg.Timestamp.Before(from) && msg.Timestamp.Before(to) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *MockQueries) TokenUsage(ctx context.Context, from, to time.Time) ([]domain.TokenUsage, error) {
	m.lastFrom, m.lastTo = from, to
	return m.usage, nil
}

func (m *MockQueries) ListChats(ctx context.Context, activeOnly bool) ([]*domain.Chat, error) {
	if !activeOnly {
		return m.chats, nil
	}
	var out []*domain.Chat
	for _, c := range m.chats {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

var (
	testStart = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	testEnd   = testStart.Add(time.Hour)
)

func newTestServer() (*Server, *MockQueries) {
	queries := &MockQueries{
		runs: []*domain.Run{
			{ID: "run-1", Window: domain.Window{Start: testStart, End: testEnd}, RanAt: testEnd, Status: domain.RunStatusClosed, ClosedAt: testEnd},
		},
		reports: []*domain.Report{
			{RunID: "run-1", ChatID: "C1", Summary: []string{"Scope agreed"}, PromptTokens: 120, CompletionTokens: 30},
		},
		outcomes: []*domain.ChatOutcome{
			{RunID: "run-1", ChatID: "C1", Kind: domain.OutcomeReported},
			{RunID: "run-1", ChatID: "C2", Kind: domain.OutcomeSkipped},
		},
		chats: []*domain.Chat{
			{ChatID: "C1", Title: "Sales", Kind: domain.ChatKindGroup, IsWork: true, Active: true},
			{ChatID: "C2", Title: "Old", Kind: domain.ChatKindGroup, Active: false, InactiveReason: "bot removed"},
		},
		messages: []*domain.Message{
			{ChatID: "C1", PlatformMessageID: "om_1", Sender: "alice", Text: "contract signed", Timestamp: testStart.Add(10 * time.Minute), IsBusiness: true, RawJSON: "{}"},
			{ChatID: "C1", PlatformMessageID: "om_2", Sender: "bob", Text: "late", Timestamp: testEnd.Add(time.Minute)},
		},
		usage: []domain.TokenUsage{{Day: "2024-03-04", Reports: 1, PromptTokens: 120, CompletionTokens: 30}},
	}
	server := NewServer(queries, nil, "")
	server.now = func() time.Time { return testEnd }
	return server, queries
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleListRuns(t *testing.T) {
	server, queries := newTestServer()

	w := doGet(t, server, "/api/runs?limit=5")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if queries.lastLimit != 5 {
		t.Errorf("Expected limit 5, got %d", queries.lastLimit)
	}

	var result map[string][]RunView
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(result["runs"]) != 1 || result["runs"][0].Status != "closed" {
		t.Errorf("Unexpected runs: %+v", result["runs"])
	}

	if w := doGet(t, server, "/api/runs?limit=abc"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad limit, got %d", w.Code)
	}
}

func TestHandleGetRun(t *testing.T) {
	server, _ := newTestServer()

	w := doGet(t, server, "/api/runs/run-1")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var run RunView
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if run.ID != "run-1" || !run.WindowStart.Equal(testStart) || run.ClosedAt == nil {
		t.Errorf("Unexpected run: %+v", run)
	}

	if w := doGet(t, server, "/api/runs/missing"); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHandleRunReports(t *testing.T) {
	server, _ := newTestServer()

	w := doGet(t, server, "/api/runs/run-1/reports")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var result RunReportsView
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(result.Reports) != 1 || result.Reports[0].PromptTokens != 120 {
		t.Errorf("Unexpected reports: %+v", result.Reports)
	}
	if result.Reports[0].Risks == nil {
		t.Error("Expected empty risks to encode as an empty list")
	}
	if len(result.Outcomes) != 2 || result.Outcomes[1].Kind != "skipped" {
		t.Errorf("Unexpected outcomes: %+v", result.Outcomes)
	}
}

func TestHandleListChats(t *testing.T) {
	server, _ := newTestServer()

	w := doGet(t, server, "/api/chats?active=true")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var result map[string][]ChatView
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(result["chats"]) != 1 || result["chats"][0].ChatID != "C1" {
		t.Errorf("Expected only active chat C1, got %+v", result["chats"])
	}
}

func TestHandleChatReports(t *testing.T) {
	server, queries := newTestServer()

	w := doGet(t, server, "/api/chats/C1/reports?from=2024-03-01&to=2024-03-05")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !queries.lastFrom.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected from 2024-03-01, got %v", queries.lastFrom)
	}

	if w := doGet(t, server, "/api/chats/C9/reports"); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown chat, got %d", w.Code)
	}
	if w := doGet(t, server, "/api/chats/C1/reports?from=soon"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad range, got %d", w.Code)
	}
}

func TestHandleUsage(t *testing.T) {
	server, queries := newTestServer()

	w := doGet(t, server, "/api/usage")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !queries.lastTo.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected default range to end tomorrow, got %v", queries.lastTo)
	}

	var result struct {
		Usage []UsageView `json:"usage"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(result.Usage) != 1 || result.Usage[0].TotalTokens != 150 {
		t.Errorf("Unexpected usage: %+v", result.Usage)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	server, _ := newTestServer()
	if w := doGet(t, server, "/healthz"); w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("Expected healthy, got %d %q", w.Code, w.Body.String())
	}
	if w := doGet(t, server, "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("Expected no metrics route without a handler, got %d", w.Code)
	}

	server.metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	if w := doGet(t, server, "/metrics"); w.Code != http.StatusOK {
		t.Errorf("Expected metrics route, got %d", w.Code)
	}
}

func TestHandleChatMessages(t *testing.T) {
	server, _ := newTestServer()

	w := doGet(t, server, "/api/chats/C1/messages?from=2024-03-04T09:00:00Z&to=2024-03-04T10:00:00Z")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var result struct {
		Messages []MessageView `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(result.Messages) != 1 || result.Messages[0].MessageID != "om_1" || !result.Messages[0].IsBusiness {
		t.Errorf("Expected only the in-window message, got %+v", result.Messages)
	}
	if strings.Contains(w.Body.String(), "raw") {
		t.Error("Expected raw payload to be left out")
	}
}
