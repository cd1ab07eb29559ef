package bono

import (
	"context"
	"time"
)

// DebitRequest describes one credit charge.
type DebitRequest struct {
	EnrollmentID   int64
	ClassID        int64
	ClassDate      time.Time
	IsWaitlist     bool
	EnrollmentType EnrollmentType
}

// DebitResult is the outcome of a successful charge: the written ledger
// line and the bono after the decrement.
type DebitResult struct {
	Bono  *Bono
	Usage *Usage
}

// Repository persists bonos and their usage ledger.
//
// The remaining-credits counter is the engine's only hot field, so the
// decrement is split into ListEligible + TryDebit: TryDebit is a single
// guarded compare-and-swap attempt that either decrements atomically or
// reports the bono as drained, and callers walk the eligible candidates
// until one attempt lands.
type Repository interface {
	Create(ctx context.Context, b *Bono) error
	GetByID(ctx context.Context, id int64) (*Bono, error)
	ListByEnrollment(ctx context.Context, enrollmentID int64) ([]*Bono, error)

	// ListEligible returns the bonos that may fund the given flow for a
	// student: status activo, credits remaining, not expired at now, usage
	// type compatible. Ordered soonest-expiry-first so the bono closest to
	// expiring is spent before it goes to waste.
	ListEligible(ctx context.Context, enrollmentID int64, types []UsageType, now time.Time) ([]*Bono, error)
	// TryDebit atomically decrements one credit from the bono and writes
	// the usage line. ok is false when a concurrent debit drained the bono
	// first; the caller moves on to the next candidate.
	TryDebit(ctx context.Context, bonoID int64, req DebitRequest) (res *DebitResult, ok bool, err error)

	// Revert restores the credit of a usage line exactly once. A second
	// call fails with ErrUsageAlreadyReverted and changes nothing.
	Revert(ctx context.Context, usageID int64, reason string) (*Usage, error)
	// Cancel is the terminal operator action on a bono.
	Cancel(ctx context.Context, bonoID int64) (*Bono, error)
	// ExpireDue relabels activo bonos whose expiry has passed to expirado.
	// Returns the number of rows updated.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}
