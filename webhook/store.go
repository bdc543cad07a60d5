package webhook

import (
	"context"
	"time"
)

// Store persists processed-event receipts. RecordProcessedEvent returns
// billing.ErrAlreadyExists for an event id already recorded.
type Store interface {
	HasProcessedEvent(ctx context.Context, eventID string) (bool, error)
	RecordProcessedEvent(ctx context.Context, r *Receipt) error
	PurgeProcessedEvents(ctx context.Context, before time.Time) (int64, error)
}
