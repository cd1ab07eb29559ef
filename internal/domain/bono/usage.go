package bono

import (
	"database/sql"
	"time"
)

// EnrollmentType records which flow a debit paid for.
type EnrollmentType string

const (
	EnrollmentFixed      EnrollmentType = "fixed"
	EnrollmentSubstitute EnrollmentType = "substitute" // waitlist promotion
)

// Usage is one immutable ledger line: a single-credit debit against a
// bono, optionally carrying its reversal. A usage with RevertedAt set no
// longer counts against the parent bono's remaining credits.
type Usage struct {
	ID             int64
	BonoID         int64
	ClassID        int64
	ClassDate      time.Time
	EnrollmentType EnrollmentType
	UsedAt         time.Time
	RevertedAt     sql.NullTime
	RevertedReason sql.NullString
}
