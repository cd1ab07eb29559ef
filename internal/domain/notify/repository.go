package notify

import (
	"context"
	"time"
)

// Repository persists delivery records keyed by the de-duplication tuple.
type Repository interface {
	// Claim inserts a pending record for the key. It returns false without
	// error when a record for the key already exists in any status — the
	// caller must then skip the send entirely.
	Claim(ctx context.Context, rec *Record) (bool, error)
	MarkSent(ctx context.Context, id int64, messageID string) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	// ListFailed surfaces failed deliveries for manual follow-up.
	ListFailed(ctx context.Context, since time.Time) ([]*Record, error)
}
