package domain

import (
	"strings"
	"time"
)

// FilterKind identifies how a filter rule matches
type FilterKind string

const (
	FilterAllowChat FilterKind = "allow_chat"
	FilterDenyChat  FilterKind = "deny_chat"
	FilterKeyword   FilterKind = "keyword"
)

// Valid reports whether k is a known filter kind
func (k FilterKind) Valid() bool {
	switch k {
	case FilterAllowChat, FilterDenyChat, FilterKeyword:
		return true
	}
	return false
}

// Filter is a configured classification rule
type Filter struct {
	ID        int64
	Kind      FilterKind
	Value     string
	CreatedAt time.Time
}

// ClassifyInput is everything classification looks at for one chat
type ClassifyInput struct {
	ChatID     string
	Title      string
	RecentText []string
}

// rule decides a chat's classification, or returns matched=false to defer
type rule func(in ClassifyInput, filters []Filter) (isWork, matched bool)

// classifyRules are evaluated in order; the first match wins
var classifyRules = []rule{
	denyRule,
	allowRule,
	keywordRule,
}

// Classify decides whether a chat is work-related.
// Deny beats allow, allow beats keyword, and nothing matching means not work.
func Classify(in ClassifyInput, filters []Filter) bool {
	for _, r := range classifyRules {
		if isWork, matched := r(in, filters); matched {
			return isWork
		}
	}
	return false
}

func denyRule(in ClassifyInput, filters []Filter) (bool, bool) {
	for _, f := range filters {
		if f.Kind == FilterDenyChat && f.Value == in.ChatID {
			return false, true
		}
	}
	return false, false
}

func allowRule(in ClassifyInput, filters []Filter) (bool, bool) {
	for _, f := range filters {
		if f.Kind == FilterAllowChat && f.Value == in.ChatID {
			return true, true
		}
	}
	return false, false
}

func keywordRule(in ClassifyInput, filters []Filter) (bool, bool) {
	title := strings.ToLower(in.Title)
	for _, f := range filters {
		if f.Kind != FilterKeyword {
			continue
		}
		kw := strings.ToLower(strings.TrimSpace(f.Value))
		if kw == "" {
			continue
		}
		if strings.Contains(title, kw) {
			return true, true
		}
		for _, text := range in.RecentText {
			if strings.Contains(strings.ToLower(text), kw) {
				return true, true
			}
		}
	}
	return false, false
}

// KeywordValues returns the values of all keyword filters
func KeywordValues(filters []Filter) []string {
	var out []string
	for _, f := range filters {
		if f.Kind == FilterKeyword {
			out = append(out, f.Value)
		}
	}
	return out
}
