package domain

import "time"

// Analysis is the structured content extracted from a model response
type Analysis struct {
	Summary []string `json:"summary"`
	Risks   []string `json:"risks"`
	Actions []string `json:"actions"`
}

// Report is the committed analysis of one chat for one run
type Report struct {
	ID               int64
	RunID            string
	ChatID           string
	Summary          []string
	Risks            []string
	Actions          []string
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
}

// TotalTokens returns prompt plus completion tokens
func (r *Report) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// OutcomeKind is the terminal result of one chat within a run
type OutcomeKind string

const (
	OutcomeReported     OutcomeKind = "reported"
	OutcomeSkipped      OutcomeKind = "skipped"       // Nothing in the window
	OutcomeFailed       OutcomeKind = "failed"        // Summarization failed after retry
	OutcomeIngestFailed OutcomeKind = "ingest_failed" // Fetch retries exhausted
)

// ChatOutcome records how a chat finished within a run
type ChatOutcome struct {
	RunID     string
	ChatID    string
	Kind      OutcomeKind
	Detail    string
	Report    *Report // Set only for OutcomeReported, not persisted with the outcome
	CreatedAt time.Time
}

// TokenUsage aggregates token consumption for one UTC day
type TokenUsage struct {
	Day              string // YYYY-MM-DD
	Reports          int
	PromptTokens     int
	CompletionTokens int
}

// Completion is a summarizer response with its token accounting
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}
