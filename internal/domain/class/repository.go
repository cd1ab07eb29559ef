package class

import (
	"context"
	"time"
)

// Repository exposes read-only access to the entities owned by class and
// roster management. The engine never writes through this interface.
type Repository interface {
	GetClass(ctx context.Context, id int64) (*Class, error)
	// ListActiveByWeekday returns active classes whose recurrence rule
	// includes the given weekday.
	ListActiveByWeekday(ctx context.Context, weekday time.Weekday) ([]*Class, error)
	// IsOccurrenceCancelled reports whether the occurrence of a class on a
	// specific date was cancelled by an operator.
	IsOccurrenceCancelled(ctx context.Context, classID int64, date time.Time) (bool, error)

	GetEnrollment(ctx context.Context, id int64) (*StudentEnrollment, error)
	GetAccount(ctx context.Context, id int64) (*Account, error)
}
