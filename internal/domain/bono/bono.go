package bono

import (
	"database/sql"
	"time"
)

// Status is the lifecycle state of a bono. The Spanish values are the
// ones the billing side of the product exposes to operators.
type Status string

const (
	StatusActivo    Status = "activo"
	StatusAgotado   Status = "agotado"  // remaining hit zero
	StatusExpirado  Status = "expirado" // past expires_at
	StatusCancelado Status = "cancelado"
)

// UsageType restricts which kinds of seats a bono may pay for.
type UsageType string

const (
	UsageFixed    UsageType = "fixed"    // regular enrolled seats only
	UsageWaitlist UsageType = "waitlist" // waitlist promotions only
	UsageBoth     UsageType = "both"
)

// Covers reports whether the usage type allows charging the given flow.
func (t UsageType) Covers(waitlist bool) bool {
	if t == UsageBoth {
		return true
	}
	if waitlist {
		return t == UsageWaitlist
	}
	return t == UsageFixed
}

// CompatibleTypes lists the usage types eligible for a flow, for query
// building.
func CompatibleTypes(waitlist bool) []UsageType {
	if waitlist {
		return []UsageType{UsageWaitlist, UsageBoth}
	}
	return []UsageType{UsageFixed, UsageBoth}
}

// Bono is a prepaid pack of class credits. Total, price, usage type and
// expiry are snapshotted from the billing template at assignment time and
// never re-read afterwards.
type Bono struct {
	ID               int64
	EnrollmentID     int64
	Name             string
	TotalClasses     int
	RemainingClasses int
	PricePaidCents   int64
	UsageType        UsageType
	Status           Status
	ExpiresAt        sql.NullTime
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Expired reports whether the bono's expiry has passed at the given
// instant. Debit eligibility always applies this check regardless of the
// stored status.
func (b *Bono) Expired(now time.Time) bool {
	return b.ExpiresAt.Valid && !now.Before(b.ExpiresAt.Time)
}
