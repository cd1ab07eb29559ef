package attendance

import (
	"database/sql"
	"time"
)

// Status is the lifecycle state of a participant row.
type Status string

const (
	StatusActive  Status = "active"
	StatusRemoved Status = "removed" // soft removal on unenrollment
)

// Participant links a student enrollment to a class across all of its
// occurrences. Substitutes are participants promoted from the waitlist.
type Participant struct {
	ID                   int64
	ClassID              int64
	EnrollmentID         int64
	Status               Status
	IsSubstitute         bool
	JoinedFromWaitlistAt sql.NullTime
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
