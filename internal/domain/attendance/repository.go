package attendance

import (
	"context"
	"time"
)

// Repository persists participants and their per-occurrence absence
// confirmations.
type Repository interface {
	CreateParticipant(ctx context.Context, p *Participant) error
	GetParticipant(ctx context.Context, id int64) (*Participant, error)
	// FindActiveParticipant returns the active participant row linking an
	// enrollment to a class, or ErrParticipantNotFound when the student
	// holds no seat there.
	FindActiveParticipant(ctx context.Context, classID, enrollmentID int64) (*Participant, error)

	// ListActiveRoster returns the active participants of a class who have
	// NOT confirmed absence for the given occurrence date.
	ListActiveRoster(ctx context.Context, classID int64, date time.Time) ([]*Participant, error)
	// CountActiveRoster is ListActiveRoster reduced to its size; used for
	// capacity checks without loading rows.
	CountActiveRoster(ctx context.Context, classID int64, date time.Time) (int, error)

	GetConfirmation(ctx context.Context, participantID int64, date time.Time) (*Confirmation, error)
	// SetAbsence creates the confirmation row if missing and flips its
	// confirmed flag. It fails with ErrConfirmationLocked when the row is
	// already locked, leaving the stored value untouched.
	SetAbsence(ctx context.Context, participantID int64, date time.Time, confirmed bool) (*Confirmation, error)
	// LockDue marks as locked every unlocked confirmation whose occurrence
	// starts at or before the deadline. Idempotent; returns the number of
	// rows newly locked.
	LockDue(ctx context.Context, deadline time.Time) (int64, error)
}
