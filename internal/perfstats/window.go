package perfstats

import (
	"fmt"
	"time"
)

// WindowSize identifies one of the two rolling windows kept per attribute.
type WindowSize int

const (
	Window15Min WindowSize = iota
	Window24Hr

	numWindows = 2
)

// WindowSizes lists every window in publication order.
var WindowSizes = [numWindows]WindowSize{Window15Min, Window24Hr}

func (w WindowSize) String() string {
	switch w {
	case Window15Min:
		return "15min"
	case Window24Hr:
		return "24hr"
	default:
		return fmt.Sprintf("window(%d)", int(w))
	}
}

// Alignment selects how the daily window decides its reset boundary.
type Alignment int

const (
	// AlignMidnight resets the daily window at local midnight.
	AlignMidnight Alignment = iota
	// AlignRolling resets the daily window 24h after its first sample.
	AlignRolling
)

// ParseAlignment maps a configuration value to an Alignment.
func ParseAlignment(s string) (Alignment, error) {
	switch s {
	case "", "midnight":
		return AlignMidnight, nil
	case "rolling":
		return AlignRolling, nil
	default:
		return AlignMidnight, fmt.Errorf("unknown daily alignment %q", s)
	}
}

func (a Alignment) String() string {
	if a == AlignRolling {
		return "rolling"
	}
	return "midnight"
}

// WindowState is the rollup of one window. The zero value is an unstarted
// window. Current, Min and Max are meaningful only when Count > 0.
type WindowState struct {
	WindowStart time.Time
	LastReset   time.Time
	Current     float64
	Sum         float64
	Count       int
	Min         float64
	MinTime     time.Time
	Max         float64
	MaxTime     time.Time
}

// HasSamples reports whether the window holds at least one sample.
func (w WindowState) HasSamples() bool {
	return w.Count > 0
}

// Average returns Sum/Count, or false when the window is empty.
func (w WindowState) Average() (float64, bool) {
	if w.Count == 0 {
		return 0, false
	}
	return w.Sum / float64(w.Count), true
}

// reset starts a fresh accumulation period beginning at boundary.
func (w *WindowState) reset(boundary, at time.Time) {
	*w = WindowState{
		WindowStart: boundary,
		LastReset:   at,
	}
}

// fold adds one sample to the current period.
func (w *WindowState) fold(value float64, at time.Time) {
	first := w.Count == 0

	w.Current = value
	w.Sum += value
	w.Count++

	if first || value < w.Min {
		w.Min = value
		w.MinTime = at
	}
	if first || value > w.Max {
		w.Max = value
		w.MaxTime = at
	}
}

// WindowedStat accumulates one attribute's samples into the 15-minute and
// 24-hour windows. Both windows receive every sample and reset independently.
type WindowedStat struct {
	windows [numWindows]WindowState
	daily   Alignment
}

// NewWindowedStat returns an empty stat whose daily window uses daily.
func NewWindowedStat(daily Alignment) *WindowedStat {
	return &WindowedStat{daily: daily}
}

// Update folds value observed at ts into window size. A sample whose aligned
// boundary is later than the window start rolls the window over first.
// It reports whether a reset happened.
func (s *WindowedStat) Update(size WindowSize, value float64, ts time.Time) bool {
	w := &s.windows[size]
	boundary := s.boundary(size, w.WindowStart, ts)

	reset := false
	switch {
	case w.WindowStart.IsZero():
		w.reset(boundary, ts)
	case boundary.After(w.WindowStart):
		w.reset(boundary, ts)
		reset = true
	}

	w.fold(value, ts)

	return reset
}

// Add folds a sample into every window.
func (s *WindowedStat) Add(value float64, ts time.Time) {
	for _, size := range WindowSizes {
		s.Update(size, value, ts)
	}
}

// Window returns a copy of the state for size.
func (s *WindowedStat) Window(size WindowSize) WindowState {
	return s.windows[size]
}

// Snapshot returns a copy of both windows.
func (s *WindowedStat) Snapshot() AttributeSnapshot {
	return AttributeSnapshot{windows: s.windows}
}

func (s *WindowedStat) boundary(size WindowSize, start, ts time.Time) time.Time {
	if size == Window15Min {
		return Nearest15Min(ts)
	}
	if s.daily == AlignRolling {
		return rollingStart(start, ts, day)
	}
	return NearestMidnight(ts)
}
