package usage

import (
	"context"
	"time"

	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
)

// Store persists usage records. Implementations must make ReconcileUsage and
// IncrementUsage atomic per account.
type Store interface {
	// GetUsage returns the stored record as-is, or billing.ErrNotFound.
	GetUsage(ctx context.Context, accountID string) (*Record, error)

	// ReconcileUsage creates the record in period with defaultPlan, or rolls
	// an older record forward into period. A record already in period or a
	// later one is returned unchanged.
	ReconcileUsage(ctx context.Context, accountID string, defaultPlan plan.ID, period Period, at time.Time) (*Record, error)

	// IncrementUsage adds one to counter if the record is in period and the
	// counter is below limit (limit < 0 means unlimited). It returns the new
	// value, billing.ErrLimitReached when the counter is at the limit, or
	// billing.ErrNotFound when no record for period exists.
	IncrementUsage(ctx context.Context, accountID string, period Period, counter Counter, limit int64) (int64, error)

	// AssignUsagePlan records the plan assignment for accountID, creating the
	// record in period when absent.
	AssignUsagePlan(ctx context.Context, accountID string, planID plan.ID, period Period) error

	// PurgeUsage deletes records whose period is before the given one.
	PurgeUsage(ctx context.Context, before Period) (int64, error)
}
