package activity

import (
	"fmt"
	"strings"
	"time"
)

// Window is a daily activity interval "HH:MM-HH:MM" in local time.
// Start == End means the window never opens. A window whose end is before
// its start crosses midnight (e.g. 22:00-06:00).
type Window struct {
	Start Clock
	End   Clock
}

// Clock is a minute-resolution time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) minutes() int { return c.Hour*60 + c.Minute }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// ParseWindow parses "HH:MM-HH:MM".
func ParseWindow(s string) (Window, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("invalid window %q: want HH:MM-HH:MM", s)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return Window{}, fmt.Errorf("invalid window %q: %w", s, err)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return Window{}, fmt.Errorf("invalid window %q: %w", s, err)
	}
	return Window{Start: start, End: end}, nil
}

func parseClock(s string) (Clock, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return Clock{}, fmt.Errorf("bad time %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("time %q out of range", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

func (w Window) String() string { return w.Start.String() + "-" + w.End.String() }

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	now := t.Hour()*60 + t.Minute()
	start, end := w.Start.minutes(), w.End.minutes()
	if start == end {
		return false
	}
	if start < end {
		return now >= start && now < end
	}
	// Crosses midnight: inside if after start OR before end.
	return now >= start || now < end
}

// NextStart returns the next moment the window opens at or after t.
// If t is already inside the window, t itself is returned.
func (w Window) NextStart(t time.Time) time.Time {
	if w.Contains(t) {
		return t
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), w.Start.Hour, w.Start.Minute, 0, 0, t.Location())
	if !start.After(t) {
		start = start.AddDate(0, 0, 1)
	}
	return start
}
