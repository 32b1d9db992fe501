package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/DevRickLin/chat-digest/internal/api"
	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/usecase"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("135"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

const timeLayout = "2006-01-02 15:04"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case string(domain.RunStatusClosed), string(domain.OutcomeReported):
		return countStyle
	case string(domain.RunStatusFailed), string(domain.OutcomeIngestFailed):
		return errorStyle
	}
	return dateStyle
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderRuns(w io.Writer, runs []api.RunView) {
	if len(runs) == 0 {
		fmt.Fprintln(w, idStyle.Render("No runs yet."))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Runs (%d)", len(runs))))
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, titleStyle.Render("ID")+"\t"+titleStyle.Render("Window (UTC)")+"\t"+titleStyle.Render("Status")+"\t"+titleStyle.Render("Ran at")+"\t")
	for _, r := range runs {
		window := formatTime(r.WindowStart) + " → " + r.WindowEnd.UTC().Format("15:04")
		status := statusStyle(r.Status).Render(r.Status)
		if r.Error != "" {
			status += " " + errorStyle.Render(truncate(r.Error, 60))
		}
		fmt.Fprintln(tw, idStyle.Render(r.ID)+"\t"+window+"\t"+status+"\t"+dateStyle.Render(formatTime(r.RanAt))+"\t")
	}
	tw.Flush()
}

func renderRunSummaries(w io.Writer, summaries []*usecase.RunSummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, idStyle.Render("No complete window is due."))
		return
	}
	for _, s := range summaries {
		fmt.Fprintf(w, "%s %s  %s reported, %s skipped, %s failed, %s ingest failed\n",
			headerStyle.Render(formatTime(s.Run.Window.Start)+" → "+s.Run.Window.End.UTC().Format("15:04")),
			idStyle.Render(s.Run.ID),
			countStyle.Render(strconv.Itoa(s.Reported)),
			strconv.Itoa(s.Skipped),
			errorStyle.Render(strconv.Itoa(s.Failed)),
			errorStyle.Render(strconv.Itoa(s.IngestFailed)),
		)
	}
}

func renderRunReports(w io.Writer, rr api.RunReportsView, titles map[string]string) {
	renderRuns(w, []api.RunView{rr.Run})
	fmt.Fprintln(w)

	for _, r := range rr.Reports {
		renderReport(w, r, titles[r.ChatID])
	}

	var others []api.OutcomeView
	for _, o := range rr.Outcomes {
		if o.Kind != string(domain.OutcomeReported) {
			others = append(others, o)
		}
	}
	if len(others) == 0 {
		return
	}
	fmt.Fprintln(w, sectionStyle.Render("Other outcomes"))
	for _, o := range others {
		line := "  " + chatLabel(o.ChatID, titles[o.ChatID]) + "  " + statusStyle(o.Kind).Render(o.Kind)
		if o.Detail != "" {
			line += "  " + dateStyle.Render(truncate(o.Detail, 80))
		}
		fmt.Fprintln(w, line)
	}
}

func renderReport(w io.Writer, r api.ReportView, title string) {
	fmt.Fprintf(w, "%s  %s\n", headerStyle.Render(chatLabel(r.ChatID, title)),
		dateStyle.Render(fmt.Sprintf("%d+%d tokens", r.PromptTokens, r.CompletionTokens)))
	renderSection(w, "Summary", r.Summary)
	renderSection(w, "Risks", r.Risks)
	renderSection(w, "Actions", r.Actions)
	fmt.Fprintln(w)
}

func renderSection(w io.Writer, name string, items []string) {
	fmt.Fprintln(w, "  "+sectionStyle.Render(name))
	if len(items) == 0 {
		fmt.Fprintln(w, "    "+idStyle.Render("none"))
		return
	}
	for _, item := range items {
		fmt.Fprintln(w, "    - "+item)
	}
}

func renderDigest(w io.Writer, d *domain.Digest) {
	fmt.Fprintln(w, titleStyle.Render(d.Title))
	for _, line := range d.Overview {
		fmt.Fprintln(w, "  "+line)
	}
	if d.Empty() {
		fmt.Fprintln(w, idStyle.Render("Nothing reported in this run, the digest would not be sent."))
		return
	}
	for _, s := range d.Sections {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render(s.Heading))
		for _, line := range s.Lines {
			fmt.Fprintln(w, "  "+line)
		}
	}
}

func renderChats(w io.Writer, chats []api.ChatView) {
	if len(chats) == 0 {
		fmt.Fprintln(w, idStyle.Render("No chats discovered yet."))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Chats (%d)", len(chats))))
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, titleStyle.Render("ID")+"\t"+titleStyle.Render("Title")+"\t"+titleStyle.Render("Kind")+"\t"+titleStyle.Render("Work")+"\t"+titleStyle.Render("State")+"\t")
	for _, c := range chats {
		work := "no"
		if c.IsWork {
			work = countStyle.Render("yes")
		}
		state := "active"
		if !c.Active {
			state = errorStyle.Render("inactive")
			if c.InactiveReason != "" {
				state += " " + dateStyle.Render(truncate(c.InactiveReason, 50))
			}
		}
		fmt.Fprintln(tw, idStyle.Render(c.ChatID)+"\t"+c.Title+"\t"+c.Kind+"\t"+work+"\t"+state+"\t")
	}
	tw.Flush()
}

func renderMessages(w io.Writer, chatID string, msgs []api.MessageView) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, idStyle.Render("No messages in range."))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Messages in %s (%d)", chatID, len(msgs))))
	for _, m := range msgs {
		marker := " "
		if m.IsBusiness {
			marker = countStyle.Render("*")
		}
		fmt.Fprintf(w, "%s %s %s %s\n", marker, dateStyle.Render(formatTime(m.Timestamp)), titleStyle.Render(m.Sender+":"), truncate(m.Text, 120))
	}
}

func renderFilters(w io.Writer, filters []domain.Filter) {
	if len(filters) == 0 {
		fmt.Fprintln(w, idStyle.Render("No filters configured."))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Filters (%d)", len(filters))))
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, titleStyle.Render("Kind")+"\t"+titleStyle.Render("Value")+"\t"+titleStyle.Render("Added")+"\t")
	for _, f := range filters {
		fmt.Fprintln(tw, string(f.Kind)+"\t"+f.Value+"\t"+dateStyle.Render(formatTime(f.CreatedAt))+"\t")
	}
	tw.Flush()
}

func renderUsage(w io.Writer, usage []api.UsageView) {
	if len(usage) == 0 {
		fmt.Fprintln(w, idStyle.Render("No token usage in range."))
		return
	}

	fmt.Fprintln(w, headerStyle.Render("Token usage (UTC days)"))
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, titleStyle.Render("Day")+"\t"+titleStyle.Render("Reports")+"\t"+titleStyle.Render("Prompt")+"\t"+titleStyle.Render("Completion")+"\t"+titleStyle.Render("Total")+"\t")
	var total api.UsageView
	for _, u := range usage {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t\n", u.Day, u.Reports, u.PromptTokens, u.CompletionTokens, countStyle.Render(strconv.Itoa(u.TotalTokens)))
		total.Reports += u.Reports
		total.PromptTokens += u.PromptTokens
		total.CompletionTokens += u.CompletionTokens
		total.TotalTokens += u.TotalTokens
	}
	fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t\n", titleStyle.Render("total"), total.Reports, total.PromptTokens, total.CompletionTokens, countStyle.Render(strconv.Itoa(total.TotalTokens)))
	tw.Flush()
}

func chatLabel(chatID, title string) string {
	if title == "" || title == chatID {
		return chatID
	}
	return title + " (" + chatID + ")"
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
