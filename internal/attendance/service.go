package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"classtrack/internal/apperr"
	"classtrack/internal/clock"
	"classtrack/internal/identity"
	"classtrack/internal/metrics"
	"classtrack/internal/schedule"
)

// Grace absorbs clock and network skew after the nominal check-in deadline.
const Grace = 5 * time.Second

// identityLookupTimeout bounds the provider batch call so a slow provider
// degrades the aggregation instead of stalling it.
const identityLookupTimeout = 3 * time.Second

// Store is the persistence surface the service needs. *Repository satisfies
// it; tests substitute an in-memory fake.
type Store interface {
	GetCourse(ctx context.Context, id string) (*Course, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, courseID string) ([]Session, error)
	IsEnrolled(ctx context.Context, memberID, courseID string) (bool, error)
	ListRoster(ctx context.Context, courseID, ownerID string) ([]Member, error)
	HasRecord(ctx context.Context, memberID, sessionID string) (bool, error)
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	ListRecordsByCourse(ctx context.Context, courseID string) ([]Record, error)
	ListRecordsByMember(ctx context.Context, courseID, memberID string) ([]Record, error)
	ListRecordsBySession(ctx context.Context, sessionID string) ([]Record, error)
}

// ProfileResolver resolves display identities from the external provider.
type ProfileResolver interface {
	Profiles(ctx context.Context, ids []string) (map[string]identity.Profile, error)
}

// Service implements check-in admission and attendance aggregation.
type Service struct {
	store    Store
	profiles ProfileResolver
	clk      clock.Clock
	loc      *time.Location
}

// NewService creates a service. loc is the course timezone every local
// wall-clock time is interpreted in.
func NewService(store Store, profiles ProfileResolver, clk clock.Clock, loc *time.Location) *Service {
	if clk == nil {
		clk = clock.Default{}
	}
	return &Service{store: store, profiles: profiles, clk: clk, loc: loc}
}

// Location returns the configured course timezone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Window resolves the check-in window of a session in the service timezone.
func (s *Service) Window(sess *Session) (schedule.Window, error) {
	return schedule.ResolveWindow(sess.Date, sess.Slot.StartTime, sess.Slot.EndTime, s.loc)
}

// CheckIn admits or rejects a check-in attempt for (memberID, sessionID).
// Checks run in a fixed order: session existence, duplicate record, window.
// The stored instant is the server-observed now, never client-supplied. The
// duplicate pre-check is advisory only; the database unique constraint is
// what makes concurrent duplicates impossible.
func (s *Service) CheckIn(ctx context.Context, memberID, sessionID string) (Record, error) {
	if memberID == "" || sessionID == "" {
		return Record{}, apperr.Validation("member and session ids required")
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Record{}, err
	}
	if sess == nil {
		metrics.CheckinDecisions.WithLabelValues("not_found").Inc()
		return Record{}, apperr.NotFound("session")
	}
	if sess.Canceled {
		metrics.CheckinDecisions.WithLabelValues("canceled").Inc()
		return Record{}, apperr.Validation("session canceled")
	}

	already, err := s.store.HasRecord(ctx, memberID, sessionID)
	if err != nil {
		return Record{}, err
	}
	if already {
		metrics.CheckinDecisions.WithLabelValues("conflict").Inc()
		return Record{}, apperr.Conflict("already checked in")
	}

	w, err := s.Window(sess)
	if err != nil {
		return Record{}, err
	}
	now := s.clk.Now()
	closeAfter := time.Duration(sess.Slot.CloseAfterMinutes) * time.Minute
	effectiveClose := w.Start.Add(closeAfter).Add(Grace)
	if now.Before(w.Start) {
		metrics.CheckinDecisions.WithLabelValues("window_closed").Inc()
		return Record{}, fmt.Errorf("check-in not open yet: %w", apperr.ErrWindowClosed)
	}
	if !now.Before(effectiveClose) {
		metrics.CheckinDecisions.WithLabelValues("window_closed").Inc()
		return Record{}, fmt.Errorf("time out: %w", apperr.ErrWindowClosed)
	}

	rec, err := s.store.InsertRecord(ctx, Record{
		MemberID:    memberID,
		SessionID:   sessionID,
		CourseID:    sess.CourseID,
		CheckedInAt: now.UTC(),
	})
	if err != nil {
		// A racing request may win the insert; the unique constraint
		// surfaces that as the same Conflict as the pre-check.
		if errors.Is(err, apperr.ErrConflict) {
			metrics.CheckinDecisions.WithLabelValues("conflict").Inc()
		}
		return Record{}, err
	}
	metrics.CheckinDecisions.WithLabelValues("accepted").Inc()
	return rec, nil
}

// SessionInfo is the projected shape of one session occurrence.
type SessionInfo struct {
	ID          string    `json:"id"`
	Date        string    `json:"date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	Room        string    `json:"room"`
	Note        string    `json:"note,omitempty"`
	WindowStart time.Time `json:"window_start"`
}

// Presence is one cell of the roster matrix: did this member attend this
// held session, and when.
type Presence struct {
	SessionID   string     `json:"session_id"`
	Present     bool       `json:"present"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
}

// MemberRow is one roster member's attendance across every held session.
type MemberRow struct {
	MemberID   string     `json:"member_id"`
	Name       string     `json:"name"`
	ImageURL   *string    `json:"image_url"`
	Major      string     `json:"major"`
	CohortYear int        `json:"cohort_year"`
	Presences  []Presence `json:"presences"`
	Present    int        `json:"present"`
	Percent    int        `json:"percent"`
}

// OwnerSummary is the instructor-perspective read model: every roster member
// against every held session.
type OwnerSummary struct {
	CourseID       string        `json:"course_id"`
	CourseName     string        `json:"course_name"`
	Held           []SessionInfo `json:"held_sessions"`
	Canceled       []SessionInfo `json:"canceled_sessions"`
	PlannedTotal   int           `json:"total_planned_sessions"`
	HeldCount      int           `json:"sessions_held_so_far"`
	CanceledCount  int           `json:"canceled_count"`
	Roster         []MemberRow   `json:"roster"`
	AveragePercent float64       `json:"average_percent"`
}

// MemberSummary is one member's own timeline in a course.
type MemberSummary struct {
	CourseID     string        `json:"course_id"`
	CourseName   string        `json:"course_name"`
	Held         []SessionInfo `json:"held_sessions"`
	PlannedTotal int           `json:"total_planned_sessions"`
	HeldCount    int           `json:"sessions_held_so_far"`
	Row          MemberRow     `json:"member"`
}

// SessionRoster is the per-session presence list for the owner.
type SessionRoster struct {
	Session  SessionInfo `json:"session"`
	Roster   []MemberRow `json:"roster"`
	Present  int         `json:"present"`
	Absent   int         `json:"absent"`
	Enrolled int         `json:"enrolled"`
}

// courseSessions splits a course's instances into held and canceled, with
// windows resolved in the course timezone. Held means non-canceled and
// already started relative to now; chronological order is preserved.
func (s *Service) courseSessions(ctx context.Context, courseID string, now time.Time) (held, canceled, planned []SessionInfo, err error) {
	sessions, err := s.store.ListSessions(ctx, courseID)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, sess := range sessions {
		w, werr := s.Window(&sess)
		if werr != nil {
			return nil, nil, nil, werr
		}
		info := SessionInfo{
			ID:          sess.ID,
			Date:        sess.Date.Format("2006-01-02"),
			StartTime:   sess.Slot.StartTime,
			EndTime:     sess.Slot.EndTime,
			Room:        sess.Slot.Room,
			Note:        sess.Note,
			WindowStart: w.Start,
		}
		if sess.Canceled {
			canceled = append(canceled, info)
			continue
		}
		planned = append(planned, info)
		if !w.Start.After(now) {
			held = append(held, info)
		}
	}
	return held, canceled, planned, nil
}

// OwnerSummary builds the instructor-perspective matrix for a course.
// Authorization is the caller's concern; this only requires the course to
// exist.
func (s *Service) OwnerSummary(ctx context.Context, courseID string) (*OwnerSummary, error) {
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, apperr.NotFound("class")
	}

	now := s.clk.Now()
	held, canceled, planned, err := s.courseSessions(ctx, courseID, now)
	if err != nil {
		return nil, err
	}

	roster, err := s.store.ListRoster(ctx, courseID, course.OwnerID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListRecordsByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	// Index records by (member, session) so projection is a map lookup.
	index := indexRecords(records)
	profiles := s.resolveProfiles(ctx, memberIDs(roster))

	rows := make([]MemberRow, 0, len(roster))
	var percentSum float64
	for _, m := range roster {
		row := projectRow(m, held, index, profiles)
		percentSum += float64(row.Percent)
		rows = append(rows, row)
	}

	avg := 0.0
	if len(rows) > 0 {
		avg = percentSum / float64(len(rows))
	}

	return &OwnerSummary{
		CourseID:       course.ID,
		CourseName:     course.Name,
		Held:           held,
		Canceled:       canceled,
		PlannedTotal:   len(planned),
		HeldCount:      len(held),
		CanceledCount:  len(canceled),
		Roster:         rows,
		AveragePercent: avg,
	}, nil
}

// MemberSummary builds one member's own timeline. The member must hold an
// enrollment in the course.
func (s *Service) MemberSummary(ctx context.Context, courseID, memberID string) (*MemberSummary, error) {
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, apperr.NotFound("class")
	}
	enrolled, err := s.store.IsEnrolled(ctx, memberID, courseID)
	if err != nil {
		return nil, err
	}
	if !enrolled {
		return nil, apperr.Forbidden("not enrolled")
	}

	now := s.clk.Now()
	held, _, planned, err := s.courseSessions(ctx, courseID, now)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListRecordsByMember(ctx, courseID, memberID)
	if err != nil {
		return nil, err
	}

	index := indexRecords(records)
	profiles := s.resolveProfiles(ctx, []string{memberID})
	row := projectRow(Member{ID: memberID}, held, index, profiles)

	return &MemberSummary{
		CourseID:     course.ID,
		CourseName:   course.Name,
		Held:         held,
		PlannedTotal: len(planned),
		HeldCount:    len(held),
		Row:          row,
	}, nil
}

// SessionAttendances builds the per-session roster with presence flags.
// Only the course owner may see it.
func (s *Service) SessionAttendances(ctx context.Context, sessionID, requesterID string) (*SessionRoster, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.NotFound("session")
	}
	course, err := s.store.GetCourse(ctx, sess.CourseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, apperr.NotFound("class")
	}
	if requesterID != course.OwnerID {
		return nil, apperr.Forbidden("owner only")
	}

	w, err := s.Window(sess)
	if err != nil {
		return nil, err
	}
	info := SessionInfo{
		ID:          sess.ID,
		Date:        sess.Date.Format("2006-01-02"),
		StartTime:   sess.Slot.StartTime,
		EndTime:     sess.Slot.EndTime,
		Room:        sess.Slot.Room,
		Note:        sess.Note,
		WindowStart: w.Start,
	}

	roster, err := s.store.ListRoster(ctx, sess.CourseID, course.OwnerID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListRecordsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	index := indexRecords(records)
	profiles := s.resolveProfiles(ctx, memberIDs(roster))

	rows := make([]MemberRow, 0, len(roster))
	present := 0
	for _, m := range roster {
		row := projectRow(m, []SessionInfo{info}, index, profiles)
		present += row.Present
		rows = append(rows, row)
	}

	return &SessionRoster{
		Session:  info,
		Roster:   rows,
		Present:  present,
		Absent:   len(rows) - present,
		Enrolled: len(rows),
	}, nil
}

// CourseForAuthz loads a course for handler-side ownership checks.
func (s *Service) CourseForAuthz(ctx context.Context, courseID string) (*Course, error) {
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, apperr.NotFound("class")
	}
	return course, nil
}

// IsEnrolled exposes the enrollment check for handler-side authorization.
func (s *Service) IsEnrolled(ctx context.Context, memberID, courseID string) (bool, error) {
	return s.store.IsEnrolled(ctx, memberID, courseID)
}

// resolveProfiles looks up display identities with a short timeout. Failures
// degrade to an empty map so every member renders with a nil image URL.
func (s *Service) resolveProfiles(ctx context.Context, ids []string) map[string]identity.Profile {
	if s.profiles == nil || len(ids) == 0 {
		return map[string]identity.Profile{}
	}
	lookupCtx, cancel := context.WithTimeout(ctx, identityLookupTimeout)
	defer cancel()
	profiles, err := s.profiles.Profiles(lookupCtx, ids)
	if err != nil {
		log.Printf("identity lookup degraded: %v", err)
		metrics.IdentityLookupFailures.Inc()
		return map[string]identity.Profile{}
	}
	return profiles
}

func memberIDs(roster []Member) []string {
	ids := make([]string, len(roster))
	for i, m := range roster {
		ids[i] = m.ID
	}
	return ids
}

type recordKey struct {
	memberID  string
	sessionID string
}

// indexRecords builds the (member, session) lookup used by projection.
func indexRecords(records []Record) map[recordKey]Record {
	index := make(map[recordKey]Record, len(records))
	for _, rec := range records {
		index[recordKey{rec.MemberID, rec.SessionID}] = rec
	}
	return index
}

// projectRow left-joins one member against the held sessions: absence is
// simply no matching record.
func projectRow(m Member, held []SessionInfo, index map[recordKey]Record, profiles map[string]identity.Profile) MemberRow {
	row := MemberRow{
		MemberID:   m.ID,
		Name:       m.DisplayName,
		Major:      m.Major,
		CohortYear: m.CohortYear,
		Presences:  make([]Presence, 0, len(held)),
	}
	if p, ok := profiles[m.ID]; ok {
		row.ImageURL = p.ImageURL
		if row.Name == "" {
			row.Name = p.Name
		}
	}
	for _, sess := range held {
		p := Presence{SessionID: sess.ID}
		if rec, ok := index[recordKey{m.ID, sess.ID}]; ok {
			at := rec.CheckedInAt
			p.Present = true
			p.CheckedInAt = &at
			row.Present++
		}
		row.Presences = append(row.Presences, p)
	}
	row.Percent = Percent(row.Present, len(held))
	return row
}

// Percent is round-half-up of present/held*100, defined as 0 when no
// sessions have been held yet.
func Percent(present, held int) int {
	if held == 0 {
		return 0
	}
	return int(math.Floor(float64(present)/float64(held)*100 + 0.5))
}
