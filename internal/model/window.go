package model

import (
	"fmt"
	"time"
)

// TimeWindow is the single as-of interval applied to every dated source.
// Both bounds are inclusive; a zero End leaves the window open. One
// instance is shared by the whole run so sources cannot drift apart on
// what "in window" means.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Window builds a TimeWindow. End may be the zero time for an open window.
func Window(start, end time.Time) TimeWindow {
	return TimeWindow{Start: start, End: end}
}

// Bounded reports whether the window has an upper bound.
func (w TimeWindow) Bounded() bool {
	return !w.End.IsZero()
}

// Contains reports whether t falls inside the window, bounds inclusive.
// The zero time is never in any window.
func (w TimeWindow) Contains(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if w.Bounded() && t.After(w.End) {
		return false
	}
	return true
}

// ObservedEnd is the last instant the run can see: the window end when
// bounded, otherwise now. Retention uses it to decide which week buckets
// have fully elapsed.
func (w TimeWindow) ObservedEnd(now time.Time) time.Time {
	if w.Bounded() {
		return w.End
	}
	return now
}

func (w TimeWindow) String() string {
	end := "open"
	if w.Bounded() {
		end = w.End.Format("2006-01-02")
	}
	return fmt.Sprintf("[%s, %s]", w.Start.Format("2006-01-02"), end)
}
