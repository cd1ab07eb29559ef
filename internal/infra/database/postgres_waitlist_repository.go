// internal/infra/database/postgres_waitlist_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"club_attendance_engine/internal/domain/attendance"
	"club_attendance_engine/internal/domain/bono"
	"club_attendance_engine/internal/domain/class"
	"club_attendance_engine/internal/domain/waitlist"
)

// Custom errors specific to the waitlist repository
var ErrEntryNotFound = fmt.Errorf("waitlist entry not found")
var ErrEntryNotPending = fmt.Errorf("waitlist entry is not pending")
var ErrDuplicateEntry = fmt.Errorf("duplicate waitlist entry (class_id, class_date, enrollment_id)")

type PostgresWaitlistRepository struct {
	db *sql.DB
}

func NewPostgresWaitlistRepository(db *sql.DB) *PostgresWaitlistRepository {
	return &PostgresWaitlistRepository{db: db}
}

const entryColumns = `id, class_id, class_date, enrollment_id, status, requested_at, accepted_at, rejected_at, created_at, updated_at`

func scanEntry(row interface{ Scan(...any) error }) (*waitlist.Entry, error) {
	e := waitlist.Entry{}
	err := row.Scan(&e.ID, &e.ClassID, &e.ClassDate, &e.EnrollmentID, &e.Status,
		&e.RequestedAt, &e.AcceptedAt, &e.RejectedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *PostgresWaitlistRepository) Create(ctx context.Context, e *waitlist.Entry) error {
	query := `INSERT INTO waitlist_entries (class_id, class_date, enrollment_id, status, requested_at)
               VALUES ($1, $2, $3, $4, $5)
               RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, e.ClassID, class.Day(e.ClassDate), e.EnrollmentID, e.Status, e.RequestedAt).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "waitlist_class_date_enrollment_unique") {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("error creating waitlist entry: %w", err)
	}
	return nil
}

func (r *PostgresWaitlistRepository) GetByID(ctx context.Context, id int64) (*waitlist.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM waitlist_entries WHERE id = $1`
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("error getting waitlist entry by ID: %w", err)
	}
	return e, nil
}

func (r *PostgresWaitlistRepository) ListPending(ctx context.Context, classID int64, date time.Time) ([]*waitlist.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM waitlist_entries
              WHERE class_id = $1 AND class_date = $2 AND status = $3
              ORDER BY requested_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, classID, class.Day(date), waitlist.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("error listing pending waitlist entries: %w", err)
	}
	defer rows.Close()

	var entries []*waitlist.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning waitlist entry row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Accept resolves the open seat in a single transaction: participant
// insert, optional debit, self-acceptance and sibling expiry commit or
// abort together. Sibling expiry inside the same transaction is what
// makes a second acceptance structurally impossible — after commit no
// sibling is pending, so there is nothing left to accept.
func (r *PostgresWaitlistRepository) Accept(ctx context.Context, entryID int64, debit bool) (*waitlist.AcceptResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for accept: %w", err)
	}
	defer tx.Rollback() // Rollback if not committed

	lock := `SELECT ` + entryColumns + ` FROM waitlist_entries WHERE id = $1 FOR UPDATE`
	entry, err := scanEntry(tx.QueryRowContext(ctx, lock, entryID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("error locking waitlist entry: %w", err)
	}
	if entry.Status != waitlist.StatusPending {
		return nil, ErrEntryNotPending
	}

	p := attendance.Participant{
		ClassID:      entry.ClassID,
		EnrollmentID: entry.EnrollmentID,
		Status:       attendance.StatusActive,
		IsSubstitute: true,
	}
	insert := `INSERT INTO participants (class_id, enrollment_id, status, is_substitute, joined_from_waitlist_at)
               VALUES ($1, $2, $3, TRUE, NOW())
               RETURNING id, joined_from_waitlist_at, created_at, updated_at`
	if err := tx.QueryRowContext(ctx, insert, p.ClassID, p.EnrollmentID, p.Status).
		Scan(&p.ID, &p.JoinedFromWaitlistAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("error creating substitute participant: %w", err)
	}

	var debitRes *bono.DebitResult
	if debit {
		req := bono.DebitRequest{
			EnrollmentID:   entry.EnrollmentID,
			ClassID:        entry.ClassID,
			ClassDate:      entry.ClassDate,
			IsWaitlist:     true,
			EnrollmentType: bono.EnrollmentSubstitute,
		}
		debitRes, err = debitEligibleTx(ctx, tx, req, time.Now().UTC())
		if err != nil {
			return nil, err // ErrNoEligibleBono aborts the whole unit
		}
	}

	accept := `UPDATE waitlist_entries
               SET status = $2, accepted_at = NOW(), updated_at = NOW()
               WHERE id = $1
               RETURNING ` + entryColumns
	winner, err := scanEntry(tx.QueryRowContext(ctx, accept, entryID, waitlist.StatusAccepted))
	if err != nil {
		return nil, fmt.Errorf("error accepting waitlist entry: %w", err)
	}

	expire := `UPDATE waitlist_entries
               SET status = $4, updated_at = NOW()
               WHERE class_id = $1 AND class_date = $2 AND status = $5 AND id <> $3
               RETURNING ` + entryColumns
	rows, err := tx.QueryContext(ctx, expire, entry.ClassID, class.Day(entry.ClassDate), entryID,
		waitlist.StatusExpired, waitlist.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("error expiring sibling waitlist entries: %w", err)
	}
	var expired []*waitlist.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning expired sibling row: %w", err)
		}
		expired = append(expired, e)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit accept: %w", err)
	}
	return &waitlist.AcceptResult{Winner: winner, Participant: &p, Expired: expired, Debit: debitRes}, nil
}

func (r *PostgresWaitlistRepository) Reject(ctx context.Context, entryID int64) (*waitlist.Entry, error) {
	query := `UPDATE waitlist_entries
              SET status = $2, rejected_at = NOW(), updated_at = NOW()
              WHERE id = $1 AND status = $3
              RETURNING ` + entryColumns
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, entryID, waitlist.StatusRejected, waitlist.StatusPending))
	if err != nil {
		if err == sql.ErrNoRows {
			var exists bool
			if checkErr := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM waitlist_entries WHERE id = $1)`, entryID).Scan(&exists); checkErr != nil {
				return nil, fmt.Errorf("error checking waitlist entry existence: %w", checkErr)
			}
			if exists {
				return nil, ErrEntryNotPending
			}
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("error rejecting waitlist entry: %w", err)
	}
	return e, nil
}
