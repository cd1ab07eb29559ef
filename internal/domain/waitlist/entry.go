package waitlist

import (
	"database/sql"
	"time"
)

// Status is the state of a waitlist entry. Every state except pending is
// terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired" // a sibling won the seat
)

// Terminal reports whether the status admits no further transition.
func (s Status) Terminal() bool { return s != StatusPending }

// Entry is one student's request for a seat in a specific occurrence.
// At most one entry per (class, date) ever reaches accepted; every other
// entry pending at that moment is expired in the same transaction.
type Entry struct {
	ID           int64
	ClassID      int64
	ClassDate    time.Time
	EnrollmentID int64
	Status       Status
	RequestedAt  time.Time
	AcceptedAt   sql.NullTime
	RejectedAt   sql.NullTime
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
