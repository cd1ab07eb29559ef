package class

import (
	"database/sql"
	"time"
)

// PlaceholderContact is the synthetic contact value the roster import
// writes for dependent members who have no phone of their own.
const PlaceholderContact = "-"

// StudentEnrollment is a student's membership record in the club, as
// maintained by roster management. Contact details on the enrollment are
// the first stop when resolving a notification channel.
type StudentEnrollment struct {
	ID        int64
	AccountID sql.NullInt64 // linked login account, if the member registered
	FullName  string
	Phone     sql.NullString
	Email     sql.NullString
	CreatedAt time.Time
}

// HasPlaceholderContact reports whether the enrollment carries the
// synthetic dependent-account contact instead of a real one.
func (e *StudentEnrollment) HasPlaceholderContact() bool {
	return e.Phone.Valid && e.Phone.String == PlaceholderContact
}

// Account is a login profile. Dependent accounts (children enrolled by a
// parent) carry no contact data of their own and link to a guardian.
type Account struct {
	ID             int64
	Phone          sql.NullString
	Email          sql.NullString
	TelegramChatID sql.NullInt64 // set once the member linked the club bot
	IsDependent    bool
	GuardianID     sql.NullInt64
	CreatedAt      time.Time
}
