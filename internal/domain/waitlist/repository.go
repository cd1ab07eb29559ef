package waitlist

import (
	"context"
	"time"

	"club_attendance_engine/internal/domain/attendance"
	"club_attendance_engine/internal/domain/bono"
)

// AcceptResult reports everything a promotion changed: the winning entry,
// the participant row created for it, the siblings expired alongside it
// (for notification fan-out) and, for credit-funded classes, the debit.
type AcceptResult struct {
	Winner      *Entry
	Participant *attendance.Participant
	Expired     []*Entry
	Debit       *bono.DebitResult // nil when the class is not credit-funded
}

// Repository persists waitlist entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id int64) (*Entry, error)
	// ListPending returns the pending entries for an occurrence ordered by
	// requested_at ascending.
	ListPending(ctx context.Context, classID int64, date time.Time) ([]*Entry, error)

	// Accept resolves the entry as the winner of the occurrence's open
	// seat. As one atomic unit it creates the substitute participant,
	// debits one credit when debit is true, marks the entry accepted and
	// expires every sibling still pending for the same (class, date). Any
	// failure, including an ineligible debit, aborts the whole unit.
	Accept(ctx context.Context, entryID int64, debit bool) (*AcceptResult, error)
	// Reject is a single-row pending → rejected transition with no effect
	// on siblings.
	Reject(ctx context.Context, entryID int64) (*Entry, error)
}
