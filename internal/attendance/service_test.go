package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"classtrack/internal/apperr"
	"classtrack/internal/clock"
	"classtrack/internal/identity"
)

var bangkok = time.FixedZone("ICT", 7*3600)

// fakeStore is an in-memory Store. InsertRecord mimics the database unique
// constraint: a second record for the same (member, session) is a Conflict
// no matter what the pre-check saw.
type fakeStore struct {
	courses    map[string]*Course
	sessions   map[string]*Session
	byCourse   map[string][]Session
	enrolled   map[[2]string]bool
	roster     map[string][]Member
	records    map[recordKey]Record
	insertHook func(rec Record) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		courses:  map[string]*Course{},
		sessions: map[string]*Session{},
		byCourse: map[string][]Session{},
		enrolled: map[[2]string]bool{},
		roster:   map[string][]Member{},
		records:  map[recordKey]Record{},
	}
}

func (f *fakeStore) addSession(s Session) {
	f.sessions[s.ID] = &s
	f.byCourse[s.CourseID] = append(f.byCourse[s.CourseID], s)
}

func (f *fakeStore) GetCourse(_ context.Context, id string) (*Course, error) {
	return f.courses[id], nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*Session, error) {
	return f.sessions[id], nil
}

func (f *fakeStore) ListSessions(_ context.Context, courseID string) ([]Session, error) {
	return f.byCourse[courseID], nil
}

func (f *fakeStore) IsEnrolled(_ context.Context, memberID, courseID string) (bool, error) {
	return f.enrolled[[2]string{memberID, courseID}], nil
}

func (f *fakeStore) ListRoster(_ context.Context, courseID, _ string) ([]Member, error) {
	return f.roster[courseID], nil
}

func (f *fakeStore) HasRecord(_ context.Context, memberID, sessionID string) (bool, error) {
	_, ok := f.records[recordKey{memberID, sessionID}]
	return ok, nil
}

func (f *fakeStore) InsertRecord(_ context.Context, rec Record) (Record, error) {
	if f.insertHook != nil {
		if err := f.insertHook(rec); err != nil {
			return Record{}, err
		}
	}
	key := recordKey{rec.MemberID, rec.SessionID}
	if _, ok := f.records[key]; ok {
		return Record{}, apperr.Conflict("already checked in")
	}
	if rec.ID == "" {
		rec.ID = "rec-" + rec.MemberID + "-" + rec.SessionID
	}
	f.records[key] = rec
	return rec, nil
}

func (f *fakeStore) ListRecordsByCourse(_ context.Context, courseID string) ([]Record, error) {
	var out []Record
	for _, rec := range f.records {
		if rec.CourseID == courseID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) ListRecordsByMember(_ context.Context, courseID, memberID string) ([]Record, error) {
	var out []Record
	for _, rec := range f.records {
		if rec.CourseID == courseID && rec.MemberID == memberID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) ListRecordsBySession(_ context.Context, sessionID string) ([]Record, error) {
	var out []Record
	for _, rec := range f.records {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeProfiles struct {
	profiles map[string]identity.Profile
	err      error
}

func (f *fakeProfiles) Profiles(_ context.Context, ids []string) (map[string]identity.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]identity.Profile{}
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type ServiceTestSuite struct {
	suite.Suite
	ctx      context.Context
	store    *fakeStore
	profiles *fakeProfiles

	// at returns a service whose clock is pinned to the given local time.
	at func(t time.Time) *Service
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func (s *ServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = newFakeStore()
	s.profiles = &fakeProfiles{profiles: map[string]identity.Profile{}}

	s.store.courses["c1"] = &Course{
		ID:            "c1",
		Name:          "Discrete Math",
		OwnerID:       "owner-1",
		StartDate:     time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		DurationWeeks: 16,
		JoinCode:      "ABC123",
	}

	slot := ScheduleSlot{
		ID:                "slot-1",
		CourseID:          "c1",
		Weekday:           1,
		StartTime:         "09:00",
		EndTime:           "11:00",
		Room:              "B204",
		CloseAfterMinutes: 10,
	}
	mondays := []struct {
		id       string
		day      int
		canceled bool
		note     string
	}{
		{"s1", 2, false, ""},
		{"s2", 9, false, ""},
		{"s3", 16, false, ""},
		{"s4", 23, true, "field trip"},
		{"s5", 30, false, ""},
	}
	for _, m := range mondays {
		s.store.addSession(Session{
			SessionInstance: SessionInstance{
				ID:       m.id,
				SlotID:   slot.ID,
				CourseID: "c1",
				Date:     time.Date(2026, 3, m.day, 0, 0, 0, 0, time.UTC),
				Canceled: m.canceled,
				Note:     m.note,
			},
			Slot: slot,
		})
	}

	s.store.roster["c1"] = []Member{
		{ID: "m1", DisplayName: "Anan", Major: "CS", CohortYear: 2024},
		{ID: "m2", DisplayName: "Beam", Major: "CS", CohortYear: 2025},
	}
	for _, id := range []string{"owner-1", "m1", "m2"} {
		s.store.enrolled[[2]string{id, "c1"}] = true
	}

	// m1 attended the first two held sessions; m2 attended nothing.
	for _, sessID := range []string{"s1", "s2"} {
		s.store.records[recordKey{"m1", sessID}] = Record{
			ID:          "rec-m1-" + sessID,
			MemberID:    "m1",
			SessionID:   sessID,
			CourseID:    "c1",
			CheckedInAt: time.Date(2026, 3, 2, 2, 1, 0, 0, time.UTC),
		}
	}

	s.at = func(t time.Time) *Service {
		return NewService(s.store, s.profiles, clock.Fixed{T: t}, bangkok)
	}
}

func (s *ServiceTestSuite) local(day, hour, minute, sec int) time.Time {
	return time.Date(2026, 3, day, hour, minute, sec, 0, bangkok)
}

func (s *ServiceTestSuite) TestCheckInInsideWindow() {
	svc := s.at(s.local(16, 9, 9, 59))

	rec, err := svc.CheckIn(s.ctx, "m2", "s3")
	s.Require().NoError(err)
	s.Equal("m2", rec.MemberID)
	s.Equal("s3", rec.SessionID)
	s.Equal("c1", rec.CourseID)
	s.Equal(s.local(16, 9, 9, 59).UTC(), rec.CheckedInAt)
}

func (s *ServiceTestSuite) TestCheckInGraceBoundary() {
	// close is 09:10, grace 5s: 09:10:04 is admitted, 09:10:05 is not.
	_, err := s.at(s.local(16, 9, 10, 4)).CheckIn(s.ctx, "m2", "s3")
	s.NoError(err)

	_, err = s.at(s.local(16, 9, 10, 5)).CheckIn(s.ctx, "m1", "s3")
	s.ErrorIs(err, apperr.ErrWindowClosed)
}

func (s *ServiceTestSuite) TestCheckInAfterClose() {
	_, err := s.at(s.local(16, 9, 10, 6)).CheckIn(s.ctx, "m2", "s3")
	s.ErrorIs(err, apperr.ErrWindowClosed)
	s.Empty(s.store.records[recordKey{"m2", "s3"}].ID, "no record on rejection")
}

func (s *ServiceTestSuite) TestCheckInBeforeOpen() {
	_, err := s.at(s.local(16, 8, 59, 59)).CheckIn(s.ctx, "m2", "s3")
	s.ErrorIs(err, apperr.ErrWindowClosed)
}

func (s *ServiceTestSuite) TestCheckInUnknownSession() {
	_, err := s.at(s.local(16, 9, 5, 0)).CheckIn(s.ctx, "m2", "nope")
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *ServiceTestSuite) TestCheckInCanceledSession() {
	_, err := s.at(s.local(23, 9, 5, 0)).CheckIn(s.ctx, "m2", "s4")
	s.ErrorIs(err, apperr.ErrValidation)
}

func (s *ServiceTestSuite) TestCheckInIdempotent() {
	svc := s.at(s.local(16, 9, 5, 0))

	_, err := svc.CheckIn(s.ctx, "m2", "s3")
	s.Require().NoError(err)

	_, err = svc.CheckIn(s.ctx, "m2", "s3")
	s.ErrorIs(err, apperr.ErrConflict)

	count := 0
	for key := range s.store.records {
		if key == (recordKey{"m2", "s3"}) {
			count++
		}
	}
	s.Equal(1, count)
}

func (s *ServiceTestSuite) TestCheckInConcurrentLoserGetsConflict() {
	// The pre-check saw no record, but a racing request inserted one
	// first; the unique constraint rejects the loser.
	s.store.insertHook = func(Record) error {
		return apperr.Conflict("already checked in")
	}

	_, err := s.at(s.local(16, 9, 5, 0)).CheckIn(s.ctx, "m2", "s3")
	s.ErrorIs(err, apperr.ErrConflict)
}

func (s *ServiceTestSuite) TestOwnerSummaryCounts() {
	// 5 instances, 1 canceled, 3 started by March 18.
	sum, err := s.at(s.local(18, 12, 0, 0)).OwnerSummary(s.ctx, "c1")
	s.Require().NoError(err)

	s.Equal(4, sum.PlannedTotal)
	s.Equal(3, sum.HeldCount)
	s.Equal(1, sum.CanceledCount)
	s.Len(sum.Held, 3)
	s.Equal("s4", sum.Canceled[0].ID)
}

func (s *ServiceTestSuite) TestOwnerSummaryMatrix() {
	sum, err := s.at(s.local(18, 12, 0, 0)).OwnerSummary(s.ctx, "c1")
	s.Require().NoError(err)
	s.Require().Len(sum.Roster, 2)

	m1 := sum.Roster[0]
	s.Equal("m1", m1.MemberID)
	s.Require().Len(m1.Presences, 3)
	s.True(m1.Presences[0].Present)
	s.True(m1.Presences[1].Present)
	s.False(m1.Presences[2].Present)
	s.Nil(m1.Presences[2].CheckedInAt)
	s.Equal(2, m1.Present)
	s.Equal(67, m1.Percent)

	m2 := sum.Roster[1]
	s.Equal(0, m2.Present)
	s.Equal(0, m2.Percent)

	s.InDelta(33.5, sum.AveragePercent, 0.0001)
}

func (s *ServiceTestSuite) TestOwnerSummaryHeldSessionsChronological() {
	sum, err := s.at(s.local(18, 12, 0, 0)).OwnerSummary(s.ctx, "c1")
	s.Require().NoError(err)

	var prev time.Time
	for _, sess := range sum.Held {
		s.True(prev.Before(sess.WindowStart), "held sessions out of order")
		prev = sess.WindowStart
	}
}

func (s *ServiceTestSuite) TestOwnerSummaryIdentityDegrades() {
	s.profiles.err = errors.New("provider timeout")

	sum, err := s.at(s.local(18, 12, 0, 0)).OwnerSummary(s.ctx, "c1")
	s.Require().NoError(err, "aggregation must not fail on provider errors")
	for _, row := range sum.Roster {
		s.Nil(row.ImageURL)
	}
}

func (s *ServiceTestSuite) TestOwnerSummaryResolvesAvatars() {
	img := "https://cdn.example/m1.png"
	s.profiles.profiles["m1"] = identity.Profile{ID: "m1", Name: "Anan", ImageURL: &img}

	sum, err := s.at(s.local(18, 12, 0, 0)).OwnerSummary(s.ctx, "c1")
	s.Require().NoError(err)

	s.Require().NotNil(sum.Roster[0].ImageURL)
	s.Equal(img, *sum.Roster[0].ImageURL)
	s.Nil(sum.Roster[1].ImageURL, "missing profile is not an error")
}

func (s *ServiceTestSuite) TestOwnerSummaryUnknownCourse() {
	_, err := s.at(s.local(18, 12, 0, 0)).OwnerSummary(s.ctx, "nope")
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *ServiceTestSuite) TestMemberSummaryZeroAttendance() {
	// By April every non-canceled instance has been held.
	sum, err := s.at(time.Date(2026, 4, 2, 12, 0, 0, 0, bangkok)).MemberSummary(s.ctx, "c1", "m2")
	s.Require().NoError(err)

	s.Equal(4, sum.HeldCount)
	s.Require().Len(sum.Row.Presences, 4)
	for _, p := range sum.Row.Presences {
		s.False(p.Present)
	}
	s.Equal(0, sum.Row.Percent)
}

func (s *ServiceTestSuite) TestMemberSummaryNotEnrolled() {
	_, err := s.at(s.local(18, 12, 0, 0)).MemberSummary(s.ctx, "c1", "stranger")
	s.ErrorIs(err, apperr.ErrForbidden)
}

func (s *ServiceTestSuite) TestSessionAttendancesOwnerOnly() {
	_, err := s.at(s.local(18, 12, 0, 0)).SessionAttendances(s.ctx, "s1", "m1")
	s.ErrorIs(err, apperr.ErrForbidden)
}

func (s *ServiceTestSuite) TestSessionAttendancesCounts() {
	roster, err := s.at(s.local(18, 12, 0, 0)).SessionAttendances(s.ctx, "s1", "owner-1")
	s.Require().NoError(err)

	s.Equal("s1", roster.Session.ID)
	s.Equal(2, roster.Enrolled)
	s.Equal(1, roster.Present)
	s.Equal(1, roster.Absent)
}

func (s *ServiceTestSuite) TestSessionAttendancesUnknownSession() {
	_, err := s.at(s.local(18, 12, 0, 0)).SessionAttendances(s.ctx, "nope", "owner-1")
	s.ErrorIs(err, apperr.ErrNotFound)
}

func TestPercent(t *testing.T) {
	tests := []struct {
		present, held, want int
	}{
		{0, 0, 0},
		{3, 0, 0},
		{0, 4, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 2, 50},
		{5, 8, 63},
		{4, 4, 100},
	}
	for _, tt := range tests {
		if got := Percent(tt.present, tt.held); got != tt.want {
			t.Errorf("Percent(%d, %d) = %d, want %d", tt.present, tt.held, got, tt.want)
		}
	}
}
