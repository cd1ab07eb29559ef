// internal/infra/database/postgres_class_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"club_attendance_engine/internal/domain/class"

	"github.com/lib/pq" // For pq.Array and driver registration
)

// Custom errors specific to the class repository
var ErrClassNotFound = fmt.Errorf("class not found")
var ErrEnrollmentNotFound = fmt.Errorf("student enrollment not found")
var ErrAccountNotFound = fmt.Errorf("account not found")

// PostgresClassRepository reads the entities owned by class and roster
// management. All methods are read-only; this subsystem never writes to
// these tables.
type PostgresClassRepository struct {
	db *sql.DB
}

func NewPostgresClassRepository(db *sql.DB) *PostgresClassRepository {
	return &PostgresClassRepository{db: db}
}

const classColumns = `id, club_id, name, days_of_week, start_time, duration_minutes, capacity, credit_funded, active, start_date, end_date, created_at, updated_at`

func scanClass(row interface{ Scan(...any) error }) (*class.Class, error) {
	c := class.Class{}
	var days []int64
	err := row.Scan(&c.ID, &c.ClubID, &c.Name, pq.Array(&days), &c.StartTime, &c.DurationMinutes,
		&c.Capacity, &c.CreditFunded, &c.Active, &c.StartDate, &c.EndDate, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.DaysOfWeek = make([]time.Weekday, 0, len(days))
	for _, d := range days {
		c.DaysOfWeek = append(c.DaysOfWeek, time.Weekday(d))
	}
	return &c, nil
}

func (r *PostgresClassRepository) GetClass(ctx context.Context, id int64) (*class.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes WHERE id = $1`
	c, err := scanClass(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrClassNotFound
		}
		return nil, fmt.Errorf("error getting class by ID: %w", err)
	}
	return c, nil
}

func (r *PostgresClassRepository) ListActiveByWeekday(ctx context.Context, weekday time.Weekday) ([]*class.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes WHERE active = TRUE AND $1 = ANY(days_of_week) ORDER BY start_time, id`
	rows, err := r.db.QueryContext(ctx, query, int(weekday))
	if err != nil {
		return nil, fmt.Errorf("error listing classes by weekday: %w", err)
	}
	defer rows.Close()

	var classes []*class.Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning class row: %w", err)
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

func (r *PostgresClassRepository) IsOccurrenceCancelled(ctx context.Context, classID int64, date time.Time) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM class_occurrence_cancellations WHERE class_id = $1 AND class_date = $2)`
	var cancelled bool
	if err := r.db.QueryRowContext(ctx, query, classID, class.Day(date)).Scan(&cancelled); err != nil {
		return false, fmt.Errorf("error checking occurrence cancellation: %w", err)
	}
	return cancelled, nil
}

func (r *PostgresClassRepository) GetEnrollment(ctx context.Context, id int64) (*class.StudentEnrollment, error) {
	query := `SELECT id, account_id, full_name, phone, email, created_at FROM student_enrollments WHERE id = $1`
	e := class.StudentEnrollment{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&e.ID, &e.AccountID, &e.FullName, &e.Phone, &e.Email, &e.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("error getting enrollment by ID: %w", err)
	}
	return &e, nil
}

func (r *PostgresClassRepository) GetAccount(ctx context.Context, id int64) (*class.Account, error) {
	query := `SELECT id, phone, email, telegram_chat_id, is_dependent, guardian_id, created_at FROM accounts WHERE id = $1`
	a := class.Account{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&a.ID, &a.Phone, &a.Email, &a.TelegramChatID, &a.IsDependent, &a.GuardianID, &a.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("error getting account by ID: %w", err)
	}
	return &a, nil
}
