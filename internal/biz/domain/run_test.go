package domain

import (
	"testing"
	"time"
)

func TestRunStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to RunStatus
		want     bool
	}{
		{RunStatusOpen, RunStatusIngesting, true},
		{RunStatusIngesting, RunStatusAnalyzing, true},
		{RunStatusAnalyzing, RunStatusClosed, true},
		{RunStatusIngesting, RunStatusFailed, true},
		{RunStatusAnalyzing, RunStatusFailed, true},
		{RunStatusOpen, RunStatusClosed, false},
		{RunStatusClosed, RunStatusFailed, false},
		{RunStatusFailed, RunStatusOpen, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestWindow_HalfOpen(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: start.Add(time.Hour)}

	if !w.Contains(start) {
		t.Error("Expected start to be inside the window")
	}
	if w.Contains(start.Add(time.Hour)) {
		t.Error("Expected end to be outside the window")
	}

	next := Window{Start: w.End, End: w.End.Add(time.Hour)}
	if w.Overlaps(next) {
		t.Error("Expected adjacent windows not to overlap")
	}

	shifted := Window{Start: start.Add(30 * time.Minute), End: start.Add(90 * time.Minute)}
	if !w.Overlaps(shifted) {
		t.Error("Expected shifted window to overlap")
	}
}

func TestOutstandingWindows(t *testing.T) {
	from := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	now := from.Add(3*time.Hour + 20*time.Minute)

	windows := OutstandingWindows(from, now, time.Hour)
	if len(windows) != 3 {
		t.Fatalf("Expected 3 windows, got %d", len(windows))
	}
	for i, w := range windows {
		if !w.Start.Equal(from.Add(time.Duration(i) * time.Hour)) {
			t.Errorf("Window %d: unexpected start %v", i, w.Start)
		}
		if i > 0 && !w.Start.Equal(windows[i-1].End) {
			t.Errorf("Window %d is not contiguous with previous", i)
		}
	}

	if got := OutstandingWindows(from, from.Add(59*time.Minute), time.Hour); len(got) != 0 {
		t.Errorf("Expected no complete windows, got %d", len(got))
	}
}

func TestBootstrapStart(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 25, 0, 0, time.UTC)

	got := BootstrapStart(time.Time{}, now, time.Hour)
	want := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	configured := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	if got := BootstrapStart(configured, now, time.Hour); !got.Equal(configured) {
		t.Errorf("Expected configured start %v, got %v", configured, got)
	}
}
