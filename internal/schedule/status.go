package schedule

import "time"

// Status classifies a session occurrence relative to "now". Statuses are
// derived on every call and never stored.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusFinished Status = "finished"
)

// StatusAt returns the status of a window at the given instant. Boundaries
// are half-open and inclusive on the lower bound:
//
//	upcoming: now < start
//	active:   start <= now < start+closeAfter
//	expired:  start+closeAfter <= now < end
//	finished: end <= now
func StatusAt(w Window, closeAfter time.Duration, now time.Time) Status {
	switch {
	case now.Before(w.Start):
		return StatusUpcoming
	case !now.Before(w.End):
		return StatusFinished
	case now.Before(w.Start.Add(closeAfter)):
		return StatusActive
	default:
		return StatusExpired
	}
}
