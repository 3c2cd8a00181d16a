package risk

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a recurring time range in which autonomous tool use is
// allowed. Start and End are "HH:MM" clock times; a Start later than
// End wraps past midnight into the next day.
type Window struct {
	Label string `json:"label" mapstructure:"label"`
	// Days uses Go weekday numbering: Sunday=0 .. Saturday=6.
	Days  []int  `json:"days" mapstructure:"days"`
	Start string `json:"start" mapstructure:"start"`
	End   string `json:"end" mapstructure:"end"`
}

// Schedule is the user-configured autonomy schedule.
type Schedule struct {
	Enabled  bool     `json:"enabled" mapstructure:"enabled"`
	Timezone string   `json:"timezone" mapstructure:"timezone"`
	Windows  []Window `json:"windows" mapstructure:"windows"`
}

// WithinWindow reports whether now falls inside any configured window.
// A disabled schedule is always within; an enabled schedule with no
// windows is never within.
func (s Schedule) WithinWindow(now time.Time) bool {
	if !s.Enabled {
		return true
	}
	if len(s.Windows) == 0 {
		return false
	}

	loc := time.UTC
	if s.Timezone != "" {
		if parsed, err := time.LoadLocation(s.Timezone); err == nil {
			loc = parsed
		}
	}
	local := now.In(loc)
	day := int(local.Weekday())
	minute := local.Hour()*60 + local.Minute()

	for _, w := range s.Windows {
		if w.contains(day, minute) {
			return true
		}
	}
	return false
}

// contains checks one window against a weekday and minute-of-day.
func (w Window) contains(day, minute int) bool {
	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}

	if start <= end {
		return w.hasDay(day) && minute >= start && minute < end
	}

	// Midnight-crossing range: the tail [00:00,end) belongs to the day
	// after each configured weekday.
	if w.hasDay(day) && minute >= start {
		return true
	}
	prev := (day + 6) % 7
	return w.hasDay(prev) && minute < end
}

func (w Window) hasDay(day int) bool {
	for _, d := range w.Days {
		if d == day {
			return true
		}
	}
	return false
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time: %s", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in clock time: %s", s)
	}
	min, err := strconv.Atoi(parts[1])
	if err != nil || min < 0 || min > 59 {
		return 0, fmt.Errorf("invalid minute in clock time: %s", s)
	}
	return hour*60 + min, nil
}
