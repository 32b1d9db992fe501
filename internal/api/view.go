package api

import (
	"time"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/usecase"
)

// RunView is the JSON form of a run
type RunView struct {
	ID          string     `json:"id"`
	WindowStart time.Time  `json:"window_start"`
	WindowEnd   time.Time  `json:"window_end"`
	RanAt       time.Time  `json:"ran_at"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// ReportView is the JSON form of a report
type ReportView struct {
	RunID            string    `json:"run_id"`
	ChatID           string    `json:"chat_id"`
	Summary          []string  `json:"summary"`
	Risks            []string  `json:"risks"`
	Actions          []string  `json:"actions"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// OutcomeView is the JSON form of a chat outcome
type OutcomeView struct {
	ChatID string `json:"chat_id"`
	Kind   string `json:"outcome"`
	Detail string `json:"detail,omitempty"`
}

// ChatView is the JSON form of a chat
type ChatView struct {
	ChatID         string     `json:"chat_id"`
	Title          string     `json:"title"`
	Kind           string     `json:"kind"`
	IsWork         bool       `json:"is_work"`
	Active         bool       `json:"active"`
	InactiveReason string     `json:"inactive_reason,omitempty"`
	LastSeenAt     *time.Time `json:"last_seen_at,omitempty"`
}

// MessageView is the JSON form of a stored message; the raw payload is omitted
type MessageView struct {
	MessageID  string    `json:"message_id"`
	Sender     string    `json:"sender"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"ts"`
	IsBusiness bool      `json:"is_business"`
}

// UsageView is the JSON form of one day of token usage
type UsageView struct {
	Day              string `json:"day"`
	Reports          int    `json:"reports"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// RunReportsView is a run with its reports and outcomes
type RunReportsView struct {
	Run      RunView       `json:"run"`
	Reports  []ReportView  `json:"reports"`
	Outcomes []OutcomeView `json:"outcomes"`
}

// DigestSectionView is the JSON form of a digest section
type DigestSectionView struct {
	Heading string   `json:"heading"`
	Lines   []string `json:"lines"`
}

// DigestView is the JSON form of a run digest
type DigestView struct {
	Title    string              `json:"title"`
	Overview []string            `json:"overview"`
	Sections []DigestSectionView `json:"sections"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// NewRunView converts a run
func NewRunView(r *domain.Run) RunView {
	return RunView{
		ID:          r.ID,
		WindowStart: r.Window.Start,
		WindowEnd:   r.Window.End,
		RanAt:       r.RanAt,
		Status:      string(r.Status),
		Error:       r.Error,
		ClosedAt:    optionalTime(r.ClosedAt),
	}
}

// NewRunViews converts runs
func NewRunViews(runs []*domain.Run) []RunView {
	out := make([]RunView, 0, len(runs))
	for _, r := range runs {
		out = append(out, NewRunView(r))
	}
	return out
}

// NewReportViews converts reports
func NewReportViews(reports []*domain.Report) []ReportView {
	out := make([]ReportView, 0, len(reports))
	for _, r := range reports {
		out = append(out, ReportView{
			RunID:            r.RunID,
			ChatID:           r.ChatID,
			Summary:          nonNil(r.Summary),
			Risks:            nonNil(r.Risks),
			Actions:          nonNil(r.Actions),
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			CreatedAt:        r.CreatedAt,
		})
	}
	return out
}

// NewRunReportsView converts a run with its reports and outcomes
func NewRunReportsView(rr *usecase.RunReports) RunReportsView {
	outcomes := make([]OutcomeView, 0, len(rr.Outcomes))
	for _, o := range rr.Outcomes {
		outcomes = append(outcomes, OutcomeView{ChatID: o.ChatID, Kind: string(o.Kind), Detail: o.Detail})
	}
	return RunReportsView{
		Run:      NewRunView(rr.Run),
		Reports:  NewReportViews(rr.Reports),
		Outcomes: outcomes,
	}
}

// NewChatViews converts chats
func NewChatViews(chats []*domain.Chat) []ChatView {
	out := make([]ChatView, 0, len(chats))
	for _, c := range chats {
		out = append(out, ChatView{
			ChatID:         c.ChatID,
			Title:          c.Title,
			Kind:           string(c.Kind),
			IsWork:         c.IsWork,
			Active:         c.Active,
			InactiveReason: c.InactiveReason,
			LastSeenAt:     optionalTime(c.Cursor.At),
		})
	}
	return out
}

// NewMessageViews converts messages
func NewMessageViews(msgs []*domain.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageView{
			MessageID:  m.PlatformMessageID,
			Sender:     m.Sender,
			Text:       m.Text,
			Timestamp:  m.Timestamp,
			IsBusiness: m.IsBusiness,
		})
	}
	return out
}

// NewUsageViews converts daily token usage
func NewUsageViews(usage []domain.TokenUsage) []UsageView {
	out := make([]UsageView, 0, len(usage))
	for _, u := range usage {
		out = append(out, UsageView{
			Day:              u.Day,
			Reports:          u.Reports,
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.PromptTokens + u.CompletionTokens,
		})
	}
	return out
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

// NewDigestView converts a digest
func NewDigestView(d *domain.Digest) DigestView {
	view := DigestView{
		Title:    d.Title,
		Overview: d.Overview,
		Sections: make([]DigestSectionView, 0, len(d.Sections)),
	}
	for _, s := range d.Sections {
		view.Sections = append(view.Sections, DigestSectionView{Heading: s.Heading, Lines: s.Lines})
	}
	return view
}
