package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RunFinished("closed", time.Now())
	m.ChatOutcome("reported")
	m.Ingested(3)
	m.IngestError(true)
	m.Summarized(time.Second, 10, 5)
	m.DigestDelivered("sent")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 from nil metrics handler, got %d", w.Code)
	}
}

func TestMetricsRecordAndExpose(t *testing.T) {
	m := NewMetrics()
	end := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)

	m.RunFinished("closed", end)
	m.ChatOutcome("reported")
	m.ChatOutcome("reported")
	m.Ingested(4)
	m.IngestError(false)
	m.Summarized(2*time.Second, 1200, 300)
	m.DigestDelivered("failed")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()

	expected := []string{
		`chatdigest_runs_total{status="closed"} 1`,
		`chatdigest_chat_outcomes_total{outcome="reported"} 2`,
		`chatdigest_messages_ingested_total 4`,
		`chatdigest_ingest_errors_total{kind="transient"} 1`,
		`chatdigest_llm_tokens_total{kind="prompt"} 1200`,
		`chatdigest_llm_tokens_total{kind="completion"} 300`,
		`chatdigest_summarize_duration_seconds_count 1`,
		`chatdigest_digests_total{result="failed"} 1`,
		fmt.Sprintf("chatdigest_last_closed_window_end_seconds %g", float64(end.Unix())),
	}
	for _, line := range expected {
		if !strings.Contains(body, line) {
			t.Errorf("Expected exposition to contain %q", line)
		}
	}
}
