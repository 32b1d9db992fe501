package usecase

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
)

const promptTimeLayout = "2006-01-02 15:04"

// BuildPrompt renders the user prompt for one chat's window.
// Messages are listed oldest first; when they do not fit in maxChars the tail is
// dropped and the truncation marker appended.
func BuildPrompt(template, truncatedMarker string, maxChars int, chat *domain.Chat, window domain.Window, msgs []*domain.Message) string {
	title := chat.Title
	if title == "" {
		title = chat.ChatID
	}

	render := func(body string) string {
		r := strings.NewReplacer(
			"{{chat_title}}", title,
			"{{window_start}}", window.Start.UTC().Format(promptTimeLayout),
			"{{window_end}}", window.End.UTC().Format(promptTimeLayout),
			"{{message_count}}", strconv.Itoa(len(msgs)),
			"{{messages}}", body,
		)
		return r.Replace(template)
	}

	budget := maxChars - utf8.RuneCountInString(render(""))
	if maxChars <= 0 {
		budget = -1
	}

	var b strings.Builder
	used := 0
	truncated := false
	for _, m := range msgs {
		line := formatMessage(m)
		n := utf8.RuneCountInString(line) + 1
		if budget >= 0 && used+n > budget {
			// Keep at least part of the first message rather than sending nothing
			if used == 0 && budget > 0 {
				b.WriteString(truncateRunes(line, budget))
				b.WriteByte('\n')
			}
			truncated = true
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
		used += n
	}
	if truncated && truncatedMarker != "" {
		b.WriteString(truncatedMarker)
		b.WriteByte('\n')
	}

	return render(strings.TrimRight(b.String(), "\n"))
}

// formatMessage formats a single message as "[HH:MM] sender: text"
func formatMessage(m *domain.Message) string {
	sender := m.Sender
	if sender == "" {
		sender = "unknown"
	}
	text := strings.ReplaceAll(strings.TrimSpace(m.Text), "\n", " ")
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp.UTC().Format("15:04"), sender, text)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

type section int

const (
	sectionNone section = iota
	sectionSummary
	sectionRisks
	sectionActions
)

// sectionHeaders maps normalized header text to the section it opens
var sectionHeaders = map[string]section{
	"SUMMARY":         sectionSummary,
	"AGREEMENTS":      sectionSummary,
	"KEY DECISIONS":   sectionSummary,
	"ДОГОВОРЕННОСТИ":  sectionSummary,
	"RISKS":           sectionRisks,
	"РИСКИ":           sectionRisks,
	"ACTIONS":         sectionActions,
	"ACTION ITEMS":    sectionActions,
	"RECOMMENDATIONS": sectionActions,
	"NEXT STEPS":      sectionActions,
	"РЕКОМЕНДАЦИИ":    sectionActions,
}

// ParseAnalysis extracts summary, risks and actions from a model response.
// It accepts a JSON object or three headed blocks of bullets; a response missing
// any of the three sections is malformed.
func ParseAnalysis(text string) (*domain.Analysis, error) {
	if a, ok := parseJSONAnalysis(text); ok {
		return a, nil
	}

	var a domain.Analysis
	seen := map[section]bool{}
	current := sectionNone

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if sec, rest, ok := parseHeader(line); ok {
			current = sec
			seen[sec] = true
			if rest != "" {
				appendItem(&a, current, rest)
			}
			continue
		}
		if current == sectionNone {
			continue
		}
		appendItem(&a, current, stripBullet(line))
	}

	if !seen[sectionSummary] || !seen[sectionRisks] || !seen[sectionActions] {
		return nil, domain.ErrMalformedResponse
	}
	return &a, nil
}

func parseJSONAnalysis(text string) (*domain.Analysis, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var payload struct {
		Summary *[]string `json:"summary"`
		Risks   *[]string `json:"risks"`
		Actions *[]string `json:"actions"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return nil, false
	}
	if payload.Summary == nil || payload.Risks == nil || payload.Actions == nil {
		return nil, false
	}

	return &domain.Analysis{
		Summary: cleanItems(*payload.Summary),
		Risks:   cleanItems(*payload.Risks),
		Actions: cleanItems(*payload.Actions),
	}, true
}

// parseHeader recognizes lines like "SUMMARY:", "## Risks" or "**ACTIONS**: do x"
func parseHeader(line string) (section, string, bool) {
	head, rest := line, ""
	if i := strings.IndexAny(line, ":："); i >= 0 {
		head = line[:i]
		_, size := utf8.DecodeRuneInString(line[i:])
		rest = strings.TrimSpace(line[i+size:])
	}
	head = strings.Trim(head, "#*_ \t")
	sec, ok := sectionHeaders[strings.ToUpper(head)]
	if !ok {
		return sectionNone, "", false
	}
	return sec, strings.Trim(rest, "*_ \t"), true
}

// stripBullet removes a leading "-", "•", "*" or "1." / "1)" marker
func stripBullet(line string) string {
	for _, marker := range []string{"-", "•", "*"} {
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(strings.TrimPrefix(line, marker))
		}
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:])
	}
	return line
}

func appendItem(a *domain.Analysis, sec section, item string) {
	if isEmptyItem(item) {
		return
	}
	switch sec {
	case sectionSummary:
		a.Summary = append(a.Summary, item)
	case sectionRisks:
		a.Risks = append(a.Risks, item)
	case sectionActions:
		a.Actions = append(a.Actions, item)
	}
}

func cleanItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if !isEmptyItem(item) {
			out = append(out, item)
		}
	}
	return out
}

func isEmptyItem(item string) bool {
	switch strings.ToLower(strings.Trim(item, ". ")) {
	case "", "none", "n/a", "нет":
		return true
	}
	return false
}
