package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

var reClock = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})(?::(\d{2}))?\s*$`)

// SecondOptional allows both 5-field and 6-field (with seconds) specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS" on a 24h clock.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	m := reClock.FindStringSubmatch(s)
	if m == nil {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	sec := 0
	if m[3] != "" {
		sec, _ = strconv.Atoi(m[3])
	}
	t := TimeOfDay{Hour: h, Minute: mi, Second: sec}
	if err := t.Validate(); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t, nil
}

func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("hour %d out of range", t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("minute %d out of range", t.Minute)
	}
	if t.Second < 0 || t.Second > 59 {
		return fmt.Errorf("second %d out of range", t.Second)
	}
	return nil
}

func (t TimeOfDay) String() string {
	if t.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	}
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// CronSpec renders the daily cron expression (with seconds) for t.
func (t TimeOfDay) CronSpec() string {
	return fmt.Sprintf("%d %d %d * * *", t.Second, t.Minute, t.Hour)
}

func (t TimeOfDay) schedule() (cron.Schedule, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return parser.Parse(t.CronSpec())
}

// Next returns the first instant strictly after from whose wall-clock time in
// loc equals t. On a day where t falls in a DST gap it returns the instant the
// zone maps t to (02:30 on a spring-forward night becomes 03:30).
func (t TimeOfDay) Next(from time.Time, loc *time.Location) (time.Time, error) {
	sched, err := t.schedule()
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	return t.next(sched, from, loc), nil
}

// next is sched.Next, except that cron skips a time of day that a DST gap
// removes and moves on to the following day. The candidate for each calendar
// day is built with time.Date, which shifts a gap time forward.
func (t TimeOfDay) next(sched cron.Schedule, from time.Time, loc *time.Location) time.Time {
	f := from.In(loc)
	n := sched.Next(f)
	for d := 0; d <= 2; d++ {
		c := time.Date(f.Year(), f.Month(), f.Day()+d, t.Hour, t.Minute, t.Second, 0, loc)
		if !c.Before(n) {
			break
		}
		if c.After(f) {
			return c
		}
	}
	return n
}

// endOfDay is the last instant of the calendar day containing ts in loc.
func endOfDay(ts time.Time, loc *time.Location) time.Time {
	l := ts.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day()+1, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
}
