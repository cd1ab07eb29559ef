// internal/infra/database/postgres_bono_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"club_attendance_engine/internal/domain/bono"
	"club_attendance_engine/internal/domain/class"

	"github.com/lib/pq"
)

// Custom errors specific to the bono repository
var ErrBonoNotFound = fmt.Errorf("bono not found")
var ErrUsageNotFound = fmt.Errorf("bono usage not found")
var ErrUsageAlreadyReverted = fmt.Errorf("bono usage already reverted")
var ErrNoEligibleBono = fmt.Errorf("no eligible bono to debit")
var ErrBonoCancelled = fmt.Errorf("bono is already cancelled")

type PostgresBonoRepository struct {
	db *sql.DB
}

func NewPostgresBonoRepository(db *sql.DB) *PostgresBonoRepository {
	return &PostgresBonoRepository{db: db}
}

const bonoColumns = `id, enrollment_id, name, total_classes, remaining_classes, price_paid_cents, usage_type, status, expires_at, created_at, updated_at`

func scanBono(row interface{ Scan(...any) error }) (*bono.Bono, error) {
	b := bono.Bono{}
	err := row.Scan(&b.ID, &b.EnrollmentID, &b.Name, &b.TotalClasses, &b.RemainingClasses,
		&b.PricePaidCents, &b.UsageType, &b.Status, &b.ExpiresAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *PostgresBonoRepository) Create(ctx context.Context, b *bono.Bono) error {
	query := `INSERT INTO student_bonos (enrollment_id, name, total_classes, remaining_classes, price_paid_cents, usage_type, status, expires_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
               RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, b.EnrollmentID, b.Name, b.TotalClasses, b.RemainingClasses,
		b.PricePaidCents, b.UsageType, b.Status, b.ExpiresAt).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating bono: %w", err)
	}
	return nil
}

func (r *PostgresBonoRepository) GetByID(ctx context.Context, id int64) (*bono.Bono, error) {
	query := `SELECT ` + bonoColumns + ` FROM student_bonos WHERE id = $1`
	b, err := scanBono(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBonoNotFound
		}
		return nil, fmt.Errorf("error getting bono by ID: %w", err)
	}
	return b, nil
}

func (r *PostgresBonoRepository) ListByEnrollment(ctx context.Context, enrollmentID int64) ([]*bono.Bono, error) {
	query := `SELECT ` + bonoColumns + ` FROM student_bonos WHERE enrollment_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("error listing bonos by enrollment: %w", err)
	}
	defer rows.Close()

	var bonos []*bono.Bono
	for rows.Next() {
		b, err := scanBono(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning bono row: %w", err)
		}
		bonos = append(bonos, b)
	}
	return bonos, rows.Err()
}

// ListEligible applies the debit eligibility rule: activo, credits left,
// not expired at now (authoritative regardless of stored status), usage
// type compatible. Soonest expiry first so the bono closest to expiring
// is spent before it goes to waste.
func (r *PostgresBonoRepository) ListEligible(ctx context.Context, enrollmentID int64, types []bono.UsageType, now time.Time) ([]*bono.Bono, error) {
	typeStrings := make([]string, 0, len(types))
	for _, t := range types {
		typeStrings = append(typeStrings, string(t))
	}
	query := `SELECT ` + bonoColumns + ` FROM student_bonos
              WHERE enrollment_id = $1 AND status = $2 AND remaining_classes > 0
                AND (expires_at IS NULL OR expires_at > $3)
                AND usage_type = ANY($4)
              ORDER BY expires_at ASC NULLS LAST, id ASC`
	rows, err := r.db.QueryContext(ctx, query, enrollmentID, bono.StatusActivo, now, pq.Array(typeStrings))
	if err != nil {
		return nil, fmt.Errorf("error listing eligible bonos: %w", err)
	}
	defer rows.Close()

	var bonos []*bono.Bono
	for rows.Next() {
		b, err := scanBono(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning eligible bono row: %w", err)
		}
		bonos = append(bonos, b)
	}
	return bonos, rows.Err()
}

func (r *PostgresBonoRepository) TryDebit(ctx context.Context, bonoID int64, req bono.DebitRequest) (*bono.DebitResult, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction for debit: %w", err)
	}
	defer tx.Rollback() // Rollback if not committed

	res, ok, err := tryDebitTx(ctx, tx, bonoID, req)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit debit: %w", err)
	}
	return res, true, nil
}

// tryDebitTx is the single compare-and-swap attempt shared by the bono
// and waitlist repositories: the decrement predicate re-checks the
// counter, so two concurrent debits can never both take the last credit.
// ok=false means the guard did not match (drained or no longer activo).
func tryDebitTx(ctx context.Context, tx *sql.Tx, bonoID int64, req bono.DebitRequest) (*bono.DebitResult, bool, error) {
	update := `UPDATE student_bonos
               SET remaining_classes = remaining_classes - 1,
                   status = CASE WHEN remaining_classes - 1 = 0 THEN $2 ELSE status END,
                   updated_at = NOW()
               WHERE id = $1 AND status = $3 AND remaining_classes > 0
               RETURNING ` + bonoColumns
	b, err := scanBono(tx.QueryRowContext(ctx, update, bonoID, bono.StatusAgotado, bono.StatusActivo))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("error debiting bono %d: %w", bonoID, err)
	}

	insert := `INSERT INTO bono_usages (bono_id, class_id, class_date, enrollment_type)
               VALUES ($1, $2, $3, $4)
               RETURNING id, used_at`
	u := bono.Usage{BonoID: b.ID, ClassID: req.ClassID, ClassDate: class.Day(req.ClassDate), EnrollmentType: req.EnrollmentType}
	if err := tx.QueryRowContext(ctx, insert, b.ID, req.ClassID, class.Day(req.ClassDate), req.EnrollmentType).Scan(&u.ID, &u.UsedAt); err != nil {
		return nil, false, fmt.Errorf("error writing bono usage: %w", err)
	}
	return &bono.DebitResult{Bono: b, Usage: &u}, true, nil
}

// debitEligibleTx runs the full eligibility walk inside an existing
// transaction. Used by the waitlist repository so a promotion's debit
// commits or aborts together with the acceptance.
func debitEligibleTx(ctx context.Context, tx *sql.Tx, req bono.DebitRequest, now time.Time) (*bono.DebitResult, error) {
	typeStrings := []string{}
	for _, t := range bono.CompatibleTypes(req.IsWaitlist) {
		typeStrings = append(typeStrings, string(t))
	}
	query := `SELECT id FROM student_bonos
              WHERE enrollment_id = $1 AND status = $2 AND remaining_classes > 0
                AND (expires_at IS NULL OR expires_at > $3)
                AND usage_type = ANY($4)
              ORDER BY expires_at ASC NULLS LAST, id ASC
              FOR UPDATE SKIP LOCKED`
	rows, err := tx.QueryContext(ctx, query, req.EnrollmentID, bono.StatusActivo, now, pq.Array(typeStrings))
	if err != nil {
		return nil, fmt.Errorf("error listing eligible bonos in tx: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning eligible bono ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		res, ok, err := tryDebitTx(ctx, tx, id, req)
		if err != nil {
			return nil, err
		}
		if ok {
			return res, nil
		}
	}
	return nil, ErrNoEligibleBono
}

// Revert restores one credit exactly once: the reversal stamp and the
// counter increment commit together, and the stamped-already guard makes
// a second call fail cleanly without double-crediting.
func (r *PostgresBonoRepository) Revert(ctx context.Context, usageID int64, reason string) (*bono.Usage, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for revert: %w", err)
	}
	defer tx.Rollback()

	stamp := `UPDATE bono_usages
              SET reverted_at = NOW(), reverted_reason = $2
              WHERE id = $1 AND reverted_at IS NULL
              RETURNING id, bono_id, class_id, class_date, enrollment_type, used_at, reverted_at, reverted_reason`
	u := bono.Usage{}
	err = tx.QueryRowContext(ctx, stamp, usageID, reason).Scan(&u.ID, &u.BonoID, &u.ClassID, &u.ClassDate,
		&u.EnrollmentType, &u.UsedAt, &u.RevertedAt, &u.RevertedReason)
	if err != nil {
		if err == sql.ErrNoRows {
			var exists bool
			if checkErr := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bono_usages WHERE id = $1)`, usageID).Scan(&exists); checkErr != nil {
				return nil, fmt.Errorf("error checking usage existence: %w", checkErr)
			}
			if exists {
				return nil, ErrUsageAlreadyReverted
			}
			return nil, ErrUsageNotFound
		}
		return nil, fmt.Errorf("error stamping usage reversal: %w", err)
	}

	restore := `UPDATE student_bonos
                SET remaining_classes = remaining_classes + 1,
                    status = CASE WHEN status = $2 THEN $3 ELSE status END,
                    updated_at = NOW()
                WHERE id = $1`
	if _, err := tx.ExecContext(ctx, restore, u.BonoID, bono.StatusAgotado, bono.StatusActivo); err != nil {
		return nil, fmt.Errorf("error restoring bono credit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit revert: %w", err)
	}
	return &u, nil
}

func (r *PostgresBonoRepository) Cancel(ctx context.Context, bonoID int64) (*bono.Bono, error) {
	query := `UPDATE student_bonos
              SET status = $2, updated_at = NOW()
              WHERE id = $1 AND status <> $2
              RETURNING ` + bonoColumns
	b, err := scanBono(r.db.QueryRowContext(ctx, query, bonoID, bono.StatusCancelado))
	if err != nil {
		if err == sql.ErrNoRows {
			var exists bool
			if checkErr := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM student_bonos WHERE id = $1)`, bonoID).Scan(&exists); checkErr != nil {
				return nil, fmt.Errorf("error checking bono existence: %w", checkErr)
			}
			if exists {
				return nil, ErrBonoCancelled
			}
			return nil, ErrBonoNotFound
		}
		return nil, fmt.Errorf("error cancelling bono: %w", err)
	}
	return b, nil
}

// ExpireDue relabels stale activo rows. Agotado and cancelado rows are
// left alone; debit-time filtering on expires_at stays authoritative.
func (r *PostgresBonoRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE student_bonos
              SET status = $2, updated_at = NOW()
              WHERE status = $3 AND expires_at IS NOT NULL AND expires_at <= $1`
	result, err := r.db.ExecContext(ctx, query, now, bono.StatusExpirado, bono.StatusActivo)
	if err != nil {
		return 0, fmt.Errorf("error expiring bonos: %w", err)
	}
	return result.RowsAffected()
}
