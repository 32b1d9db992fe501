package domain

import "time"

// RunStatus represents the lifecycle state of a run
type RunStatus string

const (
	RunStatusOpen      RunStatus = "open"
	RunStatusIngesting RunStatus = "ingesting"
	RunStatusAnalyzing RunStatus = "analyzing"
	RunStatusClosed    RunStatus = "closed"
	RunStatusFailed    RunStatus = "failed"
)

// runTransitions lists the allowed next states for each state
var runTransitions = map[RunStatus][]RunStatus{
	RunStatusOpen:      {RunStatusIngesting, RunStatusFailed},
	RunStatusIngesting: {RunStatusAnalyzing, RunStatusFailed},
	RunStatusAnalyzing: {RunStatusClosed, RunStatusFailed},
}

// CanTransition reports whether a run may move from one status to another
func (s RunStatus) CanTransition(to RunStatus) bool {
	for _, next := range runTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusClosed || s == RunStatusFailed
}

// Window is a half-open time interval [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the window is non-empty
func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Overlaps reports whether two half-open windows share any instant
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Lease gives one coordinator the right to drive a run until it expires
type Lease struct {
	Owner string
	Until time.Time
}

// HeldAt reports whether the lease still excludes other coordinators at now
func (l Lease) HeldAt(now time.Time) bool {
	return l.Owner != "" && now.Before(l.Until)
}

// Run is one execution of the pipeline over a window
type Run struct {
	ID       string
	Window   Window
	RanAt    time.Time
	Status   RunStatus
	Error    string
	ClosedAt time.Time
	Lease    Lease
}

// OutstandingWindows returns the complete, contiguous windows of the given size
// starting at from and ending no later than now.
func OutstandingWindows(from, now time.Time, size time.Duration) []Window {
	if size <= 0 {
		return nil
	}
	var windows []Window
	for start := from; !start.Add(size).After(now); start = start.Add(size) {
		windows = append(windows, Window{Start: start, End: start.Add(size)})
	}
	return windows
}

// BootstrapStart picks the start of the first window when nothing has run yet
func BootstrapStart(configured, now time.Time, size time.Duration) time.Time {
	if !configured.IsZero() {
		return configured
	}
	return now.Truncate(size).Add(-size)
}
