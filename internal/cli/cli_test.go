package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DevRickLin/chat-digest/internal/api"
	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/usecase"
)

// testDB points configuration at a temp directory with one seed filter
func testDB(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prompts := filepath.Join(dir, "prompts.yaml")
	seed := "filters:\n  - kind: allow_chat\n    value: oc_seed\n"
	if err := os.WriteFile(prompts, []byte(seed), 0o644); err != nil {
		t.Fatalf("Failed to write prompts: %v", err)
	}
	t.Setenv("PROMPTS_CONFIG_PATH", prompts)
	return filepath.Join(dir, "digest.db")
}

func execute(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--db", dbPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFiltersCommands(t *testing.T) {
	dbPath := testDB(t)

	out, err := execute(t, dbPath, "filters", "add", "keyword", "  Contract ")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(out, "keyword=Contract") {
		t.Errorf("Expected trimmed value in output, got %q", out)
	}
	if _, err := execute(t, dbPath, "filters", "add", "deny_chat", "oc_1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	out, err = execute(t, dbPath, "--json", "filters", "list")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var result struct {
		Filters []struct {
			Kind  string `json:"kind"`
			Value string `json:"value"`
		} `json:"filters"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("Failed to parse output %q: %v", out, err)
	}
	if len(result.Filters) != 3 {
		t.Fatalf("Expected 2 added filters plus the seed, got %d", len(result.Filters))
	}

	if _, err := execute(t, dbPath, "filters", "remove", "deny_chat", "oc_1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := execute(t, dbPath, "filters", "remove", "deny_chat", "oc_1"); err == nil {
		t.Error("Expected error removing a missing rule")
	}

	_, err = execute(t, dbPath, "filters", "add", "mute", "x")
	if !errors.Is(err, domain.ErrInvalidFilter) {
		t.Errorf("Expected ErrInvalidFilter, got %v", err)
	}
}

func TestChatsReinstateUnknown(t *testing.T) {
	dbPath := testDB(t)

	_, err := execute(t, dbPath, "chats", "reinstate", "oc_missing")
	if !errors.Is(err, domain.ErrChatNotFound) {
		t.Errorf("Expected ErrChatNotFound, got %v", err)
	}
}

func TestChatsMessagesUnknown(t *testing.T) {
	dbPath := testDB(t)

	_, err := execute(t, dbPath, "chats", "messages", "oc_missing", "--from", "2024-03-01")
	if !errors.Is(err, domain.ErrChatNotFound) {
		t.Errorf("Expected ErrChatNotFound, got %v", err)
	}
}

func TestQueryCommandsOnEmptyDatabase(t *testing.T) {
	dbPath := testDB(t)

	out, err := execute(t, dbPath, "reports", "runs")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(out, "No runs yet.") {
		t.Errorf("Expected empty runs message, got %q", out)
	}

	out, err = execute(t, dbPath, "--json", "usage", "--from", "2024-03-01", "--to", "2024-03-08")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var usage struct {
		Usage []api.UsageView `json:"usage"`
	}
	if err := json.Unmarshal([]byte(out), &usage); err != nil {
		t.Fatalf("Failed to parse output %q: %v", out, err)
	}
	if usage.Usage == nil || len(usage.Usage) != 0 {
		t.Errorf("Expected empty usage list, got %#v", usage.Usage)
	}

	_, err = execute(t, dbPath, "usage", "--from", "2024-03-08", "--to", "2024-03-01")
	if !errors.Is(err, usecase.ErrInvalidRange) {
		t.Errorf("Expected ErrInvalidRange, got %v", err)
	}

	out, err = execute(t, dbPath, "cleanup")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(out, "Deleted 0 messages and 0 runs") {
		t.Errorf("Unexpected cleanup output %q", out)
	}
}

func TestRunRequiresCredentials(t *testing.T) {
	t.Setenv("FEISHU_APP_ID", "")
	t.Setenv("FEISHU_APP_SECRET", "")
	dbPath := testDB(t)

	_, err := execute(t, dbPath, "run")
	if err == nil || !strings.Contains(err.Error(), "FEISHU_APP_ID") {
		t.Errorf("Expected missing credentials error, got %v", err)
	}
}

func TestReportsSend(t *testing.T) {
	t.Setenv("FEISHU_APP_ID", "id")
	t.Setenv("FEISHU_APP_SECRET", "secret")
	t.Setenv("REPORT_TARGET_ID", "")
	dbPath := testDB(t)

	_, err := execute(t, dbPath, "reports", "send", "01HRUNMISSING")
	if err == nil || !strings.Contains(err.Error(), "REPORT_TARGET_ID") {
		t.Errorf("Expected missing target error, got %v", err)
	}

	_, err = execute(t, dbPath, "reports", "send", "01HRUNMISSING", "--dry-run")
	if !errors.Is(err, domain.ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}

func TestRenderDigest(t *testing.T) {
	var buf bytes.Buffer
	renderDigest(&buf, &domain.Digest{
		Title:    "Chat digest 2024-03-04 09:00 to 10:00 UTC",
		Overview: []string{"Chats: 1 reported, 0 quiet, 0 failed, 0 unreachable"},
		Sections: []domain.DigestSection{{Heading: "Sales (2 messages, 1 business)", Lines: []string{"Summary:", "- Agreed on scope"}}},
	})
	out := buf.String()
	for _, want := range []string{"Chat digest 2024-03-04", "1 reported", "Sales (2 messages, 1 business)", "- Agreed on scope"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got %q", want, out)
		}
	}

	buf.Reset()
	renderDigest(&buf, &domain.Digest{Title: "Chat digest"})
	if !strings.Contains(buf.String(), "would not be sent") {
		t.Errorf("Expected empty digest note, got %q", buf.String())
	}
}

func TestRenderRunReports(t *testing.T) {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	view := api.RunReportsView{
		Run: api.RunView{ID: "run-1", WindowStart: start, WindowEnd: start.Add(time.Hour), Status: "closed"},
		Reports: []api.ReportView{
			{RunID: "run-1", ChatID: "C1", Summary: []string{"Price agreed"}, Risks: []string{}, Actions: []string{"Send invoice"}},
		},
		Outcomes: []api.OutcomeView{
			{ChatID: "C1", Kind: "reported"},
			{ChatID: "C2", Kind: "failed", Detail: "malformed summarizer response"},
		},
	}

	var buf bytes.Buffer
	renderRunReports(&buf, view, map[string]string{"C1": "Sales"})
	out := buf.String()

	for _, want := range []string{"2024-03-04 09:00", "Sales (C1)", "Price agreed", "Send invoice", "none", "C2", "malformed summarizer response"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestRenderUsageTotals(t *testing.T) {
	var buf bytes.Buffer
	renderUsage(&buf, []api.UsageView{
		{Day: "2024-03-04", Reports: 2, PromptTokens: 200, CompletionTokens: 50, TotalTokens: 250},
		{Day: "2024-03-05", Reports: 1, PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	})
	if !strings.Contains(buf.String(), "370") {
		t.Errorf("Expected total of 370 tokens, got:\n%s", buf.String())
	}
}

func TestRenderMessages(t *testing.T) {
	var buf bytes.Buffer
	renderMessages(&buf, "C1", []api.MessageView{
		{MessageID: "om_1", Sender: "alice", Text: "contract\nsigned", Timestamp: time.Date(2024, 3, 4, 9, 10, 0, 0, time.UTC), IsBusiness: true},
	})
	for _, want := range []string{"Messages in C1 (1)", "2024-03-04 09:10", "alice:", "contract signed"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, buf.String())
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("Expected short, got %q", got)
	}
	if got := truncate("line one\nline two", 8); got != "line on…" {
		t.Errorf("Expected line on…, got %q", got)
	}
}
