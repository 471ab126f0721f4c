package attendance

import "time"

// Member is a synced identity-provider user. The id is owned by the provider
// and never changes after the first sync.
type Member struct {
	ID          string
	DisplayName string
	Major       string
	CohortYear  int
}

// Course is the enrollable class entity owned by one instructor.
type Course struct {
	ID            string
	Name          string
	OwnerID       string
	StartDate     time.Time
	DurationWeeks int
	JoinCode      string
}

// ScheduleSlot defines a recurring weekly occurrence of a course.
type ScheduleSlot struct {
	ID                string
	CourseID          string
	Weekday           int // 0 = Sunday
	StartTime         string
	EndTime           string
	Room              string
	CloseAfterMinutes int
}

// SessionInstance is one concrete, dated occurrence of a ScheduleSlot.
type SessionInstance struct {
	ID       string
	SlotID   string
	CourseID string
	Date     time.Time
	Canceled bool
	Note     string
}

// Enrollment links a member to a course. Unique per (member, course).
type Enrollment struct {
	MemberID string
	CourseID string
	JoinedAt time.Time
}

// Record is one member's accepted check-in for one session. It is written
// once by CheckIn and never mutated.
type Record struct {
	ID          string
	MemberID    string
	SessionID   string
	CourseID    string
	CheckedInAt time.Time
}

// Session bundles an instance with its slot so callers can resolve the
// check-in window without a second lookup.
type Session struct {
	SessionInstance
	Slot ScheduleSlot
}
