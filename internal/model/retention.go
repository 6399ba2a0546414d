package model

import "time"

// RetentionCohort is a sparse map from week offset to activity-present for
// one company, offsets relative to that company's own signup date. Only
// non-negative offsets are bucketed; activity before signup is a recorded
// data-quality anomaly, not a negative bucket.
type RetentionCohort struct {
	Weeks     map[int]bool `json:"weeks,omitempty"`
	PreSignup int          `json:"pre_signup,omitempty"`
}

// Active reports whether the company had activity in the given week.
func (c RetentionCohort) Active(week int) bool {
	return c.Weeks[week]
}

// MaxWeek returns the highest bucketed offset, -1 when no activity was
// bucketed at all.
func (c RetentionCohort) MaxWeek() int {
	max := -1
	for w := range c.Weeks {
		if w > max {
			max = w
		}
	}
	return max
}

// WeekOffset computes floor((event date − signup date) / 7 days) on date
// granularity. Time-of-day is discarded before differencing so a
// same-week timestamp pair cannot straddle a bucket on clock time alone.
// Negative offsets are returned as-is for the caller to flag.
func WeekOffset(signup, event time.Time) int {
	days := daysBetween(dateOf(signup), dateOf(event))
	return floorDiv(days, 7)
}

// WeekObservable reports whether the full 7-day span of the given week
// offset has elapsed between signup and the observed end of the window. A
// week still in progress is unmeasurable and must stay absent in output
// rather than read as churn.
func WeekObservable(signup time.Time, week int, observedEnd time.Time) bool {
	if week < 0 {
		return false
	}
	spanEnd := dateOf(signup).AddDate(0, 0, (week+1)*7)
	return !dateOf(observedEnd).Before(spanEnd)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}

func floorDiv(n, d int) int {
	q := n / d
	if n%d != 0 && (n < 0) != (d < 0) {
		q--
	}
	return q
}
