// Package retention buckets activity timestamps into week offsets relative
// to each company's own signup date. The signup-source date is the only
// anchor: other sources may disagree on signup by a day of timezone skew,
// and recomputing per source would shift week boundaries between them.
package retention

import (
	"time"

	"github.com/chatlift/funnel-cli/internal/model"
)

// Cohort buckets activity for one company. A week's bit is true iff at
// least one timestamp lands in it. Activity dated before the signup date
// increments PreSignup instead of bucketing to a negative week; the events
// are anomalies worth counting, not data worth discarding.
func Cohort(signupAt time.Time, activity []time.Time) model.RetentionCohort {
	c := model.RetentionCohort{}
	if signupAt.IsZero() {
		return c
	}
	for _, at := range activity {
		if at.IsZero() {
			continue
		}
		week := model.WeekOffset(signupAt, at)
		if week < 0 {
			c.PreSignup++
			continue
		}
		if c.Weeks == nil {
			c.Weeks = make(map[int]bool)
		}
		c.Weeks[week] = true
	}
	return c
}
