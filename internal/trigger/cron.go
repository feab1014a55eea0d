package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five-field expressions and descriptors such as @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is a parsed cron expression bound to a timezone.
type Schedule struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
}

// ParseCron parses expr and loads the IANA timezone tz (empty means UTC).
func ParseCron(expr, tz string) (*Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return &Schedule{expr: expr, sched: sched, loc: loc}, nil
}

// Next returns the first activation strictly after t, evaluated in the
// schedule's timezone and returned in UTC.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.sched.Next(t.In(s.loc)).UTC()
}

// Latest returns the last activation in (after, now] and whether one exists.
// Several missed activations collapse into the most recent one.
func (s *Schedule) Latest(after, now time.Time) (time.Time, bool) {
	const maxIterations = 10000

	t := s.Next(after)
	if t.After(now) {
		return time.Time{}, false
	}
	for i := 0; i < maxIterations; i++ {
		next := s.Next(t)
		if next.After(now) {
			break
		}
		t = next
	}
	return t, true
}

// String returns the original expression.
func (s *Schedule) String() string {
	return s.expr
}

// Location returns the timezone the schedule is evaluated in.
func (s *Schedule) Location() *time.Location {
	return s.loc
}

// ValidateCron reports whether expr and tz form a usable schedule.
func ValidateCron(expr, tz string) error {
	_, err := ParseCron(expr, tz)
	return err
}
