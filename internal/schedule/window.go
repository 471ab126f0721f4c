package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"classtrack/internal/apperr"
)

// Window is the absolute UTC interval of one session occurrence.
type Window struct {
	Start time.Time
	End   time.Time
}

// ResolveWindow converts a slot's local wall-clock times on a given calendar
// date into a UTC interval. The "HH:MM" strings are interpreted in loc, the
// course's configured timezone, so every caller resolves the same clock time
// to the same instant regardless of server locale. Only the calendar
// components of date are used; its own location is ignored, which keeps a
// DATE column scanned as UTC midnight on the right civil day.
func ResolveWindow(date time.Time, startHHMM, endHHMM string, loc *time.Location) (Window, error) {
	startH, startM, err := parseClock(startHHMM)
	if err != nil {
		return Window{}, err
	}
	endH, endM, err := parseClock(endHHMM)
	if err != nil {
		return Window{}, err
	}

	y, m, d := date.Date()
	start := time.Date(y, m, d, startH, startM, 0, 0, loc).UTC()
	end := time.Date(y, m, d, endH, endM, 0, 0, loc).UTC()
	if !start.Before(end) {
		return Window{}, apperr.Validation(fmt.Sprintf("invalid schedule data: start %q not before end %q", startHHMM, endHHMM))
	}
	return Window{Start: start, End: end}, nil
}

// parseClock parses a "HH:MM" wall-clock string. Seconds are not part of the
// stored slot format.
func parseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, apperr.Validation(fmt.Sprintf("invalid schedule data: bad time-of-day %q", s))
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, apperr.Validation(fmt.Sprintf("invalid schedule data: bad hour in %q", s))
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, apperr.Validation(fmt.Sprintf("invalid schedule data: bad minute in %q", s))
	}
	return hour, minute, nil
}
