package notify

import (
	"database/sql"
	"time"
)

// Kind identifies the message template being delivered.
type Kind string

const (
	KindReminder         Kind = "reminder"
	KindWaitlistAccepted Kind = "waitlist_accepted"
	KindWaitlistExpired  Kind = "waitlist_expired"
	KindWaitlistRejected Kind = "waitlist_rejected"
	KindBonoCancelled    Kind = "bono_cancelled"
)

// Status is the delivery state of a record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Record is the de-duplication row behind every outbound message. The
// (class, enrollment, occurrence date, kind) tuple is the key the whole
// scheduler protects: at most one successful send is ever recorded for it,
// and a failed record is terminal for its key; later runs never retry it.
// Kinds not tied to a class occurrence carry their subject's ID in the
// class slot (bono_cancelled holds the cancelled bono's ID) so distinct
// subjects never share a key.
type Record struct {
	ID             int64
	ClassID        int64
	EnrollmentID   int64
	OccurrenceDate time.Time
	Kind           Kind
	ScheduledFor   time.Time
	Status         Status
	SentAt         sql.NullTime
	MessageID      sql.NullString
	LastError      sql.NullString
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
