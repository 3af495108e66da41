package front

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// ShiftTime is a daily window in "HH:MM" local time.
type ShiftTime struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Shift is a Front working-hours shift. Times is keyed mon..sun.
type Shift struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Timezone string               `json:"timezone"`
	Times    map[string]ShiftTime `json:"times"`
}

var weekdayKeys = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// IsActive reports whether now falls inside the shift's window for the
// current weekday in the shift's own timezone. Windows are half-open
// [start, end).
func (s Shift) IsActive(now time.Time) (bool, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return false, fmt.Errorf("front: shift %q timezone: %w", s.Name, err)
	}
	local := now.In(loc)

	window, ok := s.Times[weekdayKeys[local.Weekday()]]
	if !ok {
		return false, nil
	}
	start, err := parseClock(window.Start)
	if err != nil {
		return false, fmt.Errorf("front: shift %q start: %w", s.Name, err)
	}
	end, err := parseClock(window.End)
	if err != nil {
		return false, fmt.Errorf("front: shift %q end: %w", s.Name, err)
	}

	h, m, sec := local.Clock()
	current := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
	return current >= start && current < end, nil
}

// AnyActive reports whether at least one shift is active. Shifts that cannot
// be evaluated count as inactive; the first such error is returned alongside.
func AnyActive(shifts []Shift, now time.Time) (bool, error) {
	var firstErr error
	for _, s := range shifts {
		active, err := s.IsActive(now)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if active {
			return true, nil
		}
	}
	return false, firstErr
}

func parseClock(v string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(v, ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", v)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", v)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", v)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}
