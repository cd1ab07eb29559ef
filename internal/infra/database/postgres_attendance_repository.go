// internal/infra/database/postgres_attendance_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"club_attendance_engine/internal/domain/attendance"
	"club_attendance_engine/internal/domain/class"
)

// Custom errors specific to the attendance repository
var ErrParticipantNotFound = fmt.Errorf("participant not found")
var ErrConfirmationNotFound = fmt.Errorf("absence confirmation not found")
var ErrConfirmationLocked = fmt.Errorf("absence confirmation is locked")

type PostgresAttendanceRepository struct {
	db *sql.DB
}

func NewPostgresAttendanceRepository(db *sql.DB) *PostgresAttendanceRepository {
	return &PostgresAttendanceRepository{db: db}
}

func (r *PostgresAttendanceRepository) CreateParticipant(ctx context.Context, p *attendance.Participant) error {
	query := `INSERT INTO participants (class_id, enrollment_id, status, is_substitute, joined_from_waitlist_at)
               VALUES ($1, $2, $3, $4, $5)
               RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, p.ClassID, p.EnrollmentID, p.Status, p.IsSubstitute, p.JoinedFromWaitlistAt).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating participant: %w", err)
	}
	return nil
}

func (r *PostgresAttendanceRepository) GetParticipant(ctx context.Context, id int64) (*attendance.Participant, error) {
	query := `SELECT id, class_id, enrollment_id, status, is_substitute, joined_from_waitlist_at, created_at, updated_at
              FROM participants WHERE id = $1`
	p := attendance.Participant{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.ClassID, &p.EnrollmentID, &p.Status,
		&p.IsSubstitute, &p.JoinedFromWaitlistAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("error getting participant by ID: %w", err)
	}
	return &p, nil
}

func (r *PostgresAttendanceRepository) FindActiveParticipant(ctx context.Context, classID, enrollmentID int64) (*attendance.Participant, error) {
	query := `SELECT id, class_id, enrollment_id, status, is_substitute, joined_from_waitlist_at, created_at, updated_at
              FROM participants WHERE class_id = $1 AND enrollment_id = $2 AND status = $3`
	p := attendance.Participant{}
	err := r.db.QueryRowContext(ctx, query, classID, enrollmentID, attendance.StatusActive).Scan(&p.ID, &p.ClassID,
		&p.EnrollmentID, &p.Status, &p.IsSubstitute, &p.JoinedFromWaitlistAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("error finding active participant: %w", err)
	}
	return &p, nil
}

// ListActiveRoster returns active participants who have not confirmed
// absence for the occurrence date. Participants with no confirmation row
// for the date count as attending.
func (r *PostgresAttendanceRepository) ListActiveRoster(ctx context.Context, classID int64, date time.Time) ([]*attendance.Participant, error) {
	query := `SELECT p.id, p.class_id, p.enrollment_id, p.status, p.is_substitute, p.joined_from_waitlist_at, p.created_at, p.updated_at
              FROM participants p
              WHERE p.class_id = $1 AND p.status = $2
                AND NOT EXISTS (
                    SELECT 1 FROM absence_confirmations ac
                    WHERE ac.participant_id = p.id AND ac.class_date = $3 AND ac.absence_confirmed = TRUE)
              ORDER BY p.id`
	rows, err := r.db.QueryContext(ctx, query, classID, attendance.StatusActive, class.Day(date))
	if err != nil {
		return nil, fmt.Errorf("error listing active roster: %w", err)
	}
	defer rows.Close()

	var roster []*attendance.Participant
	for rows.Next() {
		p := attendance.Participant{}
		if err := rows.Scan(&p.ID, &p.ClassID, &p.EnrollmentID, &p.Status, &p.IsSubstitute,
			&p.JoinedFromWaitlistAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning roster row: %w", err)
		}
		roster = append(roster, &p)
	}
	return roster, rows.Err()
}

func (r *PostgresAttendanceRepository) CountActiveRoster(ctx context.Context, classID int64, date time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM participants p
              WHERE p.class_id = $1 AND p.status = $2
                AND NOT EXISTS (
                    SELECT 1 FROM absence_confirmations ac
                    WHERE ac.participant_id = p.id AND ac.class_date = $3 AND ac.absence_confirmed = TRUE)`
	var n int
	if err := r.db.QueryRowContext(ctx, query, classID, attendance.StatusActive, class.Day(date)).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting active roster: %w", err)
	}
	return n, nil
}

func (r *PostgresAttendanceRepository) GetConfirmation(ctx context.Context, participantID int64, date time.Time) (*attendance.Confirmation, error) {
	query := `SELECT id, participant_id, class_date, absence_confirmed, absence_confirmed_at, absence_locked, created_at, updated_at
              FROM absence_confirmations WHERE participant_id = $1 AND class_date = $2`
	c := attendance.Confirmation{}
	err := r.db.QueryRowContext(ctx, query, participantID, class.Day(date)).Scan(&c.ID, &c.ParticipantID, &c.ClassDate,
		&c.AbsenceConfirmed, &c.AbsenceConfirmedAt, &c.Locked, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrConfirmationNotFound
		}
		return nil, fmt.Errorf("error getting absence confirmation: %w", err)
	}
	return &c, nil
}

// SetAbsence lazily creates the confirmation row and flips the confirmed
// flag. The locked guard lives in the upsert predicate itself, so a
// change after lock cannot race past the sweep: the statement matches no
// row and the stored value stays untouched.
func (r *PostgresAttendanceRepository) SetAbsence(ctx context.Context, participantID int64, date time.Time, confirmed bool) (*attendance.Confirmation, error) {
	query := `INSERT INTO absence_confirmations (participant_id, class_date, absence_confirmed, absence_confirmed_at)
               VALUES ($1, $2, $3, CASE WHEN $3 THEN NOW() END)
               ON CONFLICT (participant_id, class_date) DO UPDATE
               SET absence_confirmed = EXCLUDED.absence_confirmed,
                   absence_confirmed_at = CASE WHEN EXCLUDED.absence_confirmed THEN NOW() END,
                   updated_at = NOW()
               WHERE absence_confirmations.absence_locked = FALSE
               RETURNING id, participant_id, class_date, absence_confirmed, absence_confirmed_at, absence_locked, created_at, updated_at`
	c := attendance.Confirmation{}
	err := r.db.QueryRowContext(ctx, query, participantID, class.Day(date), confirmed).Scan(&c.ID, &c.ParticipantID,
		&c.ClassDate, &c.AbsenceConfirmed, &c.AbsenceConfirmedAt, &c.Locked, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			// The only way the upsert returns nothing is the locked guard.
			return nil, ErrConfirmationLocked
		}
		return nil, fmt.Errorf("error setting absence confirmation: %w", err)
	}
	return &c, nil
}

// LockDue locks every unlocked confirmation whose occurrence start time
// is at or before the deadline. Safe to run any number of times.
func (r *PostgresAttendanceRepository) LockDue(ctx context.Context, deadline time.Time) (int64, error) {
	query := `UPDATE absence_confirmations ac
              SET absence_locked = TRUE, updated_at = NOW()
              FROM participants p
              JOIN classes c ON c.id = p.class_id
              WHERE ac.participant_id = p.id
                AND ac.absence_locked = FALSE
                AND (ac.class_date + c.start_time) <= $1`
	result, err := r.db.ExecContext(ctx, query, deadline)
	if err != nil {
		return 0, fmt.Errorf("error locking due confirmations: %w", err)
	}
	return result.RowsAffected()
}
