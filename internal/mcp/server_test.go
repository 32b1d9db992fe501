package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/usecase"
)

// Mock implementations

type mockQueries struct {
	runs    []*domain.Run
	reports map[string][]*domain.Report
	usage   []domain.TokenUsage

	lastFrom, lastTo time.Time
}

func (m *mockQueries) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit > 0 && limit < len(m.runs) {
		return m.runs[:limit], nil
	}
	return m.runs, nil
}

func (m *mockQueries) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	for _, r := range m.runs {
		if r.ID == runID {
			return r, nil
		}
	}
	return nil, domain.ErrRunNotFound
}

func (m *mockQueries) RunReports(ctx context.Context, runID string) (*usecase.RunReports, error) {
	run, err := m.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	var reports []*domain.Report
	for _, list := range m.reports {
		for _, r := range list {
			if r.RunID == runID {
				reports = append(reports, r)
			}
		}
	}
	return &usecase.RunReports{Run: run, Reports: reports}, nil
}

func (m *mockQueries) ChatReports(ctx context.Context, chatID string, from, to time.Time) ([]*domain.Report, error) {
	m.lastFrom, m.lastTo = from, to
	reports, ok := m.reports[chatID]
	if !ok {
		return nil, domain.ErrChatNotFound
	}
	return reports, nil
}

func (m *mockQueries) ChatMessages(ctx context.Context, chatID string, from, to time.Time) ([]*domain.Message, error) {
	if _, ok := m.reports[chatID]; !ok {
		return nil, domain.ErrChatNotFound
	}
	return []*domain.Message{{ChatID: chatID, PlatformMessageID: "om_1", Sender: "alice", Text: "price agreed", Timestamp: from}}, nil
}

func (m *mockQueries) TokenUsage(ctx context.Context, from, to time.Time) ([]domain.TokenUsage, error) {
	m.lastFrom, m.lastTo = from, to
	return m.usage, nil
}

func (m *mockQueries) ListChats(ctx context.Context, activeOnly bool) ([]*domain.Chat, error) {
	return []*domain.Chat{{ChatID: "C1", Title: "Sales", Kind: domain.ChatKindGroup, IsWork: true, Active: true}}, nil
}

var now = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func newTestServer() (*Server, *mockQueries) {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	queries := &mockQueries{
		runs: []*domain.Run{
			{ID: "run-2", Window: domain.Window{Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)}, Status: domain.RunStatusAnalyzing},
			{ID: "run-1", Window: domain.Window{Start: start, End: start.Add(time.Hour)}, Status: domain.RunStatusClosed},
		},
		reports: map[string][]*domain.Report{
			"C1": {{RunID: "run-1", ChatID: "C1", Summary: []string{"Price agreed"}, Actions: []string{"Send invoice"}}},
		},
		usage: []domain.TokenUsage{{Day: "2024-03-04", Reports: 2, PromptTokens: 300, CompletionTokens: 100}},
	}
	s := NewServer(queries, "test")
	s.now = func() time.Time { return now }
	return s, queries
}

func TestListRuns(t *testing.T) {
	s, _ := newTestServer()

	_, out, err := s.handleListRuns(context.Background(), nil, ListRunsInput{Limit: 1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(out.Runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(out.Runs))
	}
	if out.Runs[0].ID != "run-2" || out.Runs[0].Status != "analyzing" {
		t.Errorf("Unexpected run: %+v", out.Runs[0])
	}
}

func TestGetRunReports(t *testing.T) {
	s, _ := newTestServer()

	_, out, err := s.handleGetRunReports(context.Background(), nil, GetRunReportsInput{RunID: "run-1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.Run.ID != "run-1" || len(out.Reports) != 1 {
		t.Fatalf("Unexpected result: %+v", out)
	}
	if len(out.Reports[0].Risks) != 0 || out.Reports[0].Risks == nil {
		t.Errorf("Expected empty non-nil risks, got %#v", out.Reports[0].Risks)
	}

	_, _, err = s.handleGetRunReports(context.Background(), nil, GetRunReportsInput{RunID: "missing"})
	if !errors.Is(err, domain.ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}

func TestGetChatReports(t *testing.T) {
	s, queries := newTestServer()

	input := GetChatReportsInput{ChatID: "C1", RangeInput: RangeInput{From: "2024-03-01"}}
	_, out, err := s.handleGetChatReports(context.Background(), nil, input)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(out.Reports) != 1 || out.Reports[0].Actions[0] != "Send invoice" {
		t.Errorf("Unexpected reports: %+v", out.Reports)
	}
	if !queries.lastFrom.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected from 2024-03-01, got %v", queries.lastFrom)
	}
	if !out.To.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected default to 2024-03-05, got %v", out.To)
	}

	input.RangeInput = RangeInput{From: "2024-03-05", To: "2024-03-01"}
	if _, _, err := s.handleGetChatReports(context.Background(), nil, input); !errors.Is(err, usecase.ErrInvalidRange) {
		t.Errorf("Expected ErrInvalidRange, got %v", err)
	}
}

func TestGetTokenUsage(t *testing.T) {
	s, queries := newTestServer()

	_, out, err := s.handleGetTokenUsage(context.Background(), nil, RangeInput{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(out.Usage) != 1 || out.Usage[0].TotalTokens != 400 {
		t.Errorf("Unexpected usage: %+v", out.Usage)
	}
	if !queries.lastFrom.Equal(time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected default from 2024-02-27, got %v", queries.lastFrom)
	}
}

func TestListChats(t *testing.T) {
	s, _ := newTestServer()

	_, out, err := s.handleListChats(context.Background(), nil, ListChatsInput{ActiveOnly: true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(out.Chats) != 1 || !out.Chats[0].IsWork {
		t.Errorf("Unexpected chats: %+v", out.Chats)
	}
}

func TestGetChatMessages(t *testing.T) {
	s, _ := newTestServer()

	input := GetChatMessagesInput{ChatID: "C1", RangeInput: RangeInput{From: "2024-03-04T09:00:00Z", To: "2024-03-04T10:00:00Z"}}
	_, out, err := s.handleGetChatMessages(context.Background(), nil, input)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(out.Messages) != 1 || out.Messages[0].Text != "price agreed" {
		t.Errorf("Unexpected messages: %+v", out.Messages)
	}

	input.ChatID = "C9"
	if _, _, err := s.handleGetChatMessages(context.Background(), nil, input); !errors.Is(err, domain.ErrChatNotFound) {
		t.Errorf("Expected ErrChatNotFound, got %v", err)
	}
}
