package usecase

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/repo"
	"github.com/DevRickLin/chat-digest/internal/data"
)

// Mock implementations

type mockPlatform struct {
	mu       sync.Mutex
	chats    []domain.ChatInfo
	messages map[string][]domain.RawMessage
	errs     map[string][]error // Returned in order, one per fetch
	listErr  error
	lists    int
	fetches  map[string]int
	since    map[string][]domain.Cursor
}

func newMockPlatform() *mockPlatform {
	return &mockPlatform{
		messages: make(map[string][]domain.RawMessage),
		errs:     make(map[string][]error),
		fetches:  make(map[string]int),
		since:    make(map[string][]domain.Cursor),
	}
}

func (m *mockPlatform) addChat(chatID, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats = append(m.chats, domain.ChatInfo{ChatID: chatID, Title: title, Kind: domain.ChatKindGroup})
}

func (m *mockPlatform) addMessage(chatID, id, sender, text string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[chatID] = append(m.messages[chatID], domain.RawMessage{
		PlatformMessageID: id,
		Sender:            sender,
		Text:              text,
		Timestamp:         at,
	})
}

func (m *mockPlatform) ListChats(ctx context.Context) ([]domain.ChatInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	return append([]domain.ChatInfo(nil), m.chats...), m.listErr
}

func (m *mockPlatform) FetchNewMessages(ctx context.Context, chatID string, since domain.Cursor) ([]domain.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[chatID]++
	m.since[chatID] = append(m.since[chatID], since)
	if queue := m.errs[chatID]; len(queue) > 0 {
		err := queue[0]
		m.errs[chatID] = queue[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []domain.RawMessage
	for _, raw := range m.messages[chatID] {
		if since.Before(domain.CursorOf(raw)) {
			out = append(out, raw)
		}
	}
	return out, nil
}

func (m *mockPlatform) listCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists
}

type mockNotifier struct {
	mu      sync.Mutex
	targets []domain.DigestTarget
	digests []*domain.Digest
	err     error
}

func (m *mockNotifier) SendDigest(ctx context.Context, target domain.DigestTarget, digest *domain.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.targets = append(m.targets, target)
	m.digests = append(m.digests, digest)
	return nil
}

func (m *mockNotifier) sent() []*domain.Digest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Digest(nil), m.digests...)
}

type mockSummarizer struct {
	mu      sync.Mutex
	handler func(ctx context.Context, call int, prompt string) (*domain.Completion, error)
	calls   int
	prompts []string
}

func (m *mockSummarizer) Summarize(ctx context.Context, systemPrompt, prompt string) (*domain.Completion, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.prompts = append(m.prompts, prompt)
	handler := m.handler
	m.mu.Unlock()

	if handler == nil {
		return validCompletion(), nil
	}
	return handler(ctx, call, prompt)
}

func (m *mockSummarizer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

const validReply = `SUMMARY:
- Agreed on the delivery scope
RISKS:
- none
ACTIONS:
1. Send the contract draft`

func validCompletion() *domain.Completion {
	return &domain.Completion{Text: validReply, PromptTokens: 120, CompletionTokens: 30}
}

// blockUntilDone simulates a summarizer call that never answers in time
func blockUntilDone(ctx context.Context) (*domain.Completion, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// failingRunRepo wraps a RunRepo and fails RecordOutcome
type failingRunRepo struct {
	repo.RunRepo
	err error
}

func (r *failingRunRepo) RecordOutcome(ctx context.Context, outcome *domain.ChatOutcome) error {
	return r.err
}

var testDay = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return testDay.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func newTestRepos(t *testing.T) *data.Repositories {
	t.Helper()
	repos, err := data.NewRepositories(filepath.Join(t.TempDir(), "test.db"), nil, nil)
	if err != nil {
		t.Fatalf("Failed to open repositories: %v", err)
	}
	t.Cleanup(func() { repos.Close() })
	return repos
}

func testAnalyzeConfig() AnalyzeConfig {
	return AnalyzeConfig{
		SystemPrompt:      "You summarize work chats.",
		UserTemplate:      "Chat: {{chat_title}}\nMessages: {{message_count}}\n{{messages}}",
		StrictInstruction: "Respond with JSON only.",
		TruncatedMarker:   "[truncated]",
		MaxPromptChars:    4000,
		Timeout:           time.Second,
	}
}

// testEnv wires real SQLite repositories with a mock platform and summarizer
type testEnv struct {
	repos      *data.Repositories
	platform   *mockPlatform
	summarizer *mockSummarizer
	notifier   *mockNotifier
	ingest     *IngestUsecase
	filter     *FilterUsecase
	analyze    *AnalyzeUsecase
	delivery   *DeliveryUsecase
	run        *RunUsecase
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	repos := newTestRepos(t)
	env := &testEnv{
		repos:      repos,
		platform:   newMockPlatform(),
		summarizer: &mockSummarizer{},
		notifier:   &mockNotifier{},
	}
	env.ingest = NewIngestUsecase(repos.Chat, repos.Message, env.platform, IngestConfig{
		Retries:      3,
		WorkKeywords: []string{"contract"},
	}, nil)
	env.filter = NewFilterUsecase(repos.Filter, repos.Chat, repos.Message)
	env.analyze = NewAnalyzeUsecase(repos.Message, repos.Report, env.summarizer, testAnalyzeConfig(), nil)
	// No target: runs close without delivering until a test enables it
	env.delivery = NewDeliveryUsecase(repos.Run, repos.Report, repos.Chat, repos.Message, env.notifier, DeliveryConfig{}, nil)
	env.run = env.newRunUsecase(repos.Run, now)
	return env
}

func (env *testEnv) newRunUsecase(runRepo repo.RunRepo, now time.Time) *RunUsecase {
	uc := NewRunUsecase(runRepo, env.repos.Chat, env.ingest, env.filter, env.analyze, env.delivery, RunConfig{
		Window:           time.Hour,
		StartAt:          at(9, 0),
		Workers:          2,
		ClassifyLookback: time.Hour,
	}, nil)
	uc.now = func() time.Time { return now }
	return uc
}

// enableDelivery routes closed run digests to the mock notifier
func (env *testEnv) enableDelivery(now time.Time) {
	env.delivery = NewDeliveryUsecase(env.repos.Run, env.repos.Report, env.repos.Chat, env.repos.Message, env.notifier,
		DeliveryConfig{Target: domain.DigestTarget{ID: "oc_leads"}}, nil)
	env.run = env.newRunUsecase(env.repos.Run, now)
}
