package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"classtrack/internal/apperr"
)

// uniqueViolation is the Postgres error code raised when the
// (member_id, session_id) unique index rejects a duplicate insert.
const uniqueViolation = "23505"

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetCourse returns a course by id, or nil when it does not exist.
func (r *Repository) GetCourse(ctx context.Context, id string) (*Course, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, start_date, duration_weeks, join_code
		FROM courses WHERE id = $1
	`, id)
	var c Course
	if err := row.Scan(&c.ID, &c.Name, &c.OwnerID, &c.StartDate, &c.DurationWeeks, &c.JoinCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// GetSession returns a session instance joined with its slot, or nil when it
// does not exist.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT si.id, si.slot_id, si.course_id, si.session_date, si.canceled, COALESCE(si.note, ''),
		       ss.id, ss.course_id, ss.weekday, ss.start_time, ss.end_time, ss.room, ss.close_after_minutes
		FROM session_instances si
		JOIN schedule_slots ss ON ss.id = si.slot_id
		WHERE si.id = $1
	`, id)
	var s Session
	if err := row.Scan(
		&s.ID, &s.SlotID, &s.CourseID, &s.Date, &s.Canceled, &s.Note,
		&s.Slot.ID, &s.Slot.CourseID, &s.Slot.Weekday, &s.Slot.StartTime, &s.Slot.EndTime, &s.Slot.Room, &s.Slot.CloseAfterMinutes,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListSessions returns every session instance of a course, canceled included,
// in chronological order (date, then slot start time).
func (r *Repository) ListSessions(ctx context.Context, courseID string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT si.id, si.slot_id, si.course_id, si.session_date, si.canceled, COALESCE(si.note, ''),
		       ss.id, ss.course_id, ss.weekday, ss.start_time, ss.end_time, ss.room, ss.close_after_minutes
		FROM session_instances si
		JOIN schedule_slots ss ON ss.id = si.slot_id
		WHERE si.course_id = $1
		ORDER BY si.session_date, ss.start_time, si.id
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(
			&s.ID, &s.SlotID, &s.CourseID, &s.Date, &s.Canceled, &s.Note,
			&s.Slot.ID, &s.Slot.CourseID, &s.Slot.Weekday, &s.Slot.StartTime, &s.Slot.EndTime, &s.Slot.Room, &s.Slot.CloseAfterMinutes,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// IsEnrolled reports whether the member holds an enrollment in the course.
func (r *Repository) IsEnrolled(ctx context.Context, memberID, courseID string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM enrollments WHERE member_id = $1 AND course_id = $2
		)
	`, memberID, courseID)
	var enrolled bool
	if err := row.Scan(&enrolled); err != nil {
		return false, err
	}
	return enrolled, nil
}

// ListRoster returns the enrolled members of a course excluding the owner,
// ordered for stable output.
func (r *Repository) ListRoster(ctx context.Context, courseID, ownerID string) ([]Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.display_name, COALESCE(m.major, ''), COALESCE(m.cohort_year, 0)
		FROM enrollments e
		JOIN members m ON m.id = e.member_id
		WHERE e.course_id = $1 AND e.member_id <> $2
		ORDER BY m.cohort_year, m.major, m.id, m.display_name
	`, courseID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roster []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.DisplayName, &m.Major, &m.CohortYear); err != nil {
			return nil, err
		}
		roster = append(roster, m)
	}
	return roster, rows.Err()
}

// HasRecord reports whether the member already checked in to the session.
func (r *Repository) HasRecord(ctx context.Context, memberID, sessionID string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records WHERE member_id = $1 AND session_id = $2
		)
	`, memberID, sessionID)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// InsertRecord writes a new attendance record. The unique index on
// (member_id, session_id) is the concurrency safety net: a duplicate insert
// from a racing request surfaces as the same Conflict the pre-check raises.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CheckedInAt.IsZero() {
		rec.CheckedInAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, member_id, session_id, course_id, checked_in_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.MemberID, rec.SessionID, rec.CourseID, rec.CheckedInAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Record{}, apperr.Conflict("already checked in")
		}
		return Record{}, err
	}
	return rec, nil
}

// ListRecordsByCourse returns all attendance records of a course.
func (r *Repository) ListRecordsByCourse(ctx context.Context, courseID string) ([]Record, error) {
	return r.listRecords(ctx, `
		SELECT id, member_id, session_id, course_id, checked_in_at
		FROM attendance_records WHERE course_id = $1
	`, courseID)
}

// ListRecordsByMember returns one member's attendance records in a course.
func (r *Repository) ListRecordsByMember(ctx context.Context, courseID, memberID string) ([]Record, error) {
	return r.listRecords(ctx, `
		SELECT id, member_id, session_id, course_id, checked_in_at
		FROM attendance_records WHERE course_id = $1 AND member_id = $2
	`, courseID, memberID)
}

// ListRecordsBySession returns all attendance records of one session.
func (r *Repository) ListRecordsBySession(ctx context.Context, sessionID string) ([]Record, error) {
	return r.listRecords(ctx, `
		SELECT id, member_id, session_id, course_id, checked_in_at
		FROM attendance_records WHERE session_id = $1
	`, sessionID)
}

func (r *Repository) listRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.MemberID, &rec.SessionID, &rec.CourseID, &rec.CheckedInAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpsertMember creates a member on first identity sync or refreshes the
// display attributes on later syncs. The id never changes.
func (r *Repository) UpsertMember(ctx context.Context, m Member) error {
	if m.ID == "" {
		return apperr.Validation("member id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO members (id, display_name, major, cohort_year)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			major = EXCLUDED.major,
			cohort_year = EXCLUDED.cohort_year
	`, m.ID, m.DisplayName, m.Major, m.CohortYear)
	return err
}
