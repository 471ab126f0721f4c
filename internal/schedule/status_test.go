package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testWindow() Window {
	return Window{
		Start: time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC),
	}
}

func TestStatusAt(t *testing.T) {
	w := testWindow()
	closeAfter := 10 * time.Minute

	tests := []struct {
		name string
		now  time.Time
		want Status
	}{
		{"well before start", w.Start.Add(-time.Hour), StatusUpcoming},
		{"one second before start", w.Start.Add(-time.Second), StatusUpcoming},
		{"exactly at start", w.Start, StatusActive},
		{"inside the check-in window", w.Start.Add(9 * time.Minute), StatusActive},
		{"one second before close", w.Start.Add(closeAfter - time.Second), StatusActive},
		{"exactly at close", w.Start.Add(closeAfter), StatusExpired},
		{"between close and end", w.Start.Add(time.Hour), StatusExpired},
		{"one second before end", w.End.Add(-time.Second), StatusExpired},
		{"exactly at end", w.End, StatusFinished},
		{"after end", w.End.Add(time.Hour), StatusFinished},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusAt(w, closeAfter, tt.now))
		})
	}
}

// Statuses must only ever move forward as time advances for a fixed window.
func TestStatusAtMonotonic(t *testing.T) {
	w := testWindow()
	closeAfter := 10 * time.Minute

	rank := map[Status]int{
		StatusUpcoming: 0,
		StatusActive:   1,
		StatusExpired:  2,
		StatusFinished: 3,
	}

	prev := -1
	for now := w.Start.Add(-30 * time.Minute); now.Before(w.End.Add(30 * time.Minute)); now = now.Add(13 * time.Second) {
		st := StatusAt(w, closeAfter, now)
		r, ok := rank[st]
		assert.True(t, ok, "unknown status %q", st)
		assert.GreaterOrEqual(t, r, prev, "status reverted at %s", now)
		prev = r
	}
}

func TestStatusAtCloseBeyondEnd(t *testing.T) {
	// A close offset past the window end leaves no expired span; the
	// session goes straight from active to finished.
	w := testWindow()
	closeAfter := 3 * time.Hour

	assert.Equal(t, StatusActive, StatusAt(w, closeAfter, w.End.Add(-time.Second)))
	assert.Equal(t, StatusFinished, StatusAt(w, closeAfter, w.End))
}
