package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classtrack/internal/apperr"
)

var bangkok = time.FixedZone("ICT", 7*3600)

func TestResolveWindowUsesTargetTimezone(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	w, err := ResolveWindow(date, "09:00", "11:00", bangkok)
	require.NoError(t, err)

	// 09:00 ICT is 02:00 UTC regardless of the caller's locale.
	assert.Equal(t, time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC), w.Start.UTC())
	assert.Equal(t, time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC), w.End.UTC())
}

func TestResolveWindowKeepsCivilDayForNegativeOffsets(t *testing.T) {
	// A DATE column scans as UTC midnight; the civil day must not shift
	// when the course timezone is west of UTC.
	newYork := time.FixedZone("EST", -5*3600)
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	w, err := ResolveWindow(date, "09:00", "10:30", newYork)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC), w.Start.UTC())
}

func TestResolveWindowRejectsMalformedTimes(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	for _, bad := range []string{"", "9am", "25:00", "09:61", "09", "09:00:00"} {
		_, err := ResolveWindow(date, bad, "11:00", bangkok)
		assert.ErrorIs(t, err, apperr.ErrValidation, "start %q", bad)
	}

	_, err := ResolveWindow(date, "09:00", "bad", bangkok)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestResolveWindowRejectsStartNotBeforeEnd(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	_, err := ResolveWindow(date, "11:00", "09:00", bangkok)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = ResolveWindow(date, "09:00", "09:00", bangkok)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
