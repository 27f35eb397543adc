package domain

import (
	"fmt"
	"time"
)

// State of a task's service window. Windows derived before travel times
// are known stay provisional until model assembly finalizes them.
type WindowState string

const (
	WindowProvisional WindowState = "provisional"
	WindowFinal       WindowState = "final"
)

// Service window [Start, End] during which a task may be serviced.
// Start and End are inclusive wall-clock instants.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	if end.Before(start) {
		return TimeWindow{}, fmt.Errorf("new time window: end %s before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return TimeWindow{Start: start, End: end}, nil
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Duration returns the window length.
func (w TimeWindow) Duration() time.Duration { return w.End.Sub(w.Start) }

// Overlaps reports whether two windows share at least one instant.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return !w.End.Before(other.Start) && !other.End.Before(w.Start)
}
