package attendance

import (
	"database/sql"
	"time"
)

// Confirmation is the per-(participant, occurrence date) absence fact.
// Rows are created lazily the first time a member interacts with an
// occurrence and are never deleted. Once Locked is set the row is
// immutable: the cutoff for that occurrence has passed.
type Confirmation struct {
	ID                 int64
	ParticipantID      int64
	ClassDate          time.Time
	AbsenceConfirmed   bool
	AbsenceConfirmedAt sql.NullTime
	Locked             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
