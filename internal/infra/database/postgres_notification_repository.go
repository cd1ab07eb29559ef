// internal/infra/database/postgres_notification_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"club_attendance_engine/internal/domain/class"
	"club_attendance_engine/internal/domain/notify"
)

// Custom errors specific to the notification repository
var ErrNotificationNotFound = fmt.Errorf("pending notification not found")

type PostgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

// Claim inserts a pending record for the de-dup key. The unique index on
// (class_id, enrollment_id, occurrence_date, kind) is the safety net the
// whole scheduler leans on: an overlapping or restarted run conflicts
// here, gets claimed=false and sends nothing.
func (r *PostgresNotificationRepository) Claim(ctx context.Context, rec *notify.Record) (bool, error) {
	query := `INSERT INTO pending_notifications (class_id, enrollment_id, occurrence_date, kind, scheduled_for, status)
               VALUES ($1, $2, $3, $4, $5, $6)
               ON CONFLICT (class_id, enrollment_id, occurrence_date, kind) DO NOTHING
               RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, rec.ClassID, rec.EnrollmentID, class.Day(rec.OccurrenceDate),
		rec.Kind, rec.ScheduledFor, notify.StatusPending).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("error claiming pending notification: %w", err)
	}
	rec.Status = notify.StatusPending
	return true, nil
}

func (r *PostgresNotificationRepository) MarkSent(ctx context.Context, id int64, messageID string) error {
	query := `UPDATE pending_notifications
              SET status = $2, sent_at = NOW(), message_id = $3, updated_at = NOW()
              WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, notify.StatusSent, messageID)
	if err != nil {
		return fmt.Errorf("error marking notification sent: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *PostgresNotificationRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	query := `UPDATE pending_notifications
              SET status = $2, last_error = $3, updated_at = NOW()
              WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, notify.StatusFailed, reason)
	if err != nil {
		return fmt.Errorf("error marking notification failed: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *PostgresNotificationRepository) ListFailed(ctx context.Context, since time.Time) ([]*notify.Record, error) {
	query := `SELECT id, class_id, enrollment_id, occurrence_date, kind, scheduled_for, status, sent_at, message_id, last_error, created_at, updated_at
              FROM pending_notifications
              WHERE status = $1 AND updated_at >= $2
              ORDER BY updated_at DESC`
	rows, err := r.db.QueryContext(ctx, query, notify.StatusFailed, since)
	if err != nil {
		return nil, fmt.Errorf("error listing failed notifications: %w", err)
	}
	defer rows.Close()

	var records []*notify.Record
	for rows.Next() {
		rec := notify.Record{}
		if err := rows.Scan(&rec.ID, &rec.ClassID, &rec.EnrollmentID, &rec.OccurrenceDate, &rec.Kind,
			&rec.ScheduledFor, &rec.Status, &rec.SentAt, &rec.MessageID, &rec.LastError,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning notification row: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
