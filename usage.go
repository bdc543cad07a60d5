package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
)

// Usage meters billable actions against the account's effective plan.
type Usage struct {
	e *Engine
}

// Reconcile creates the account's usage record for the current period or
// rolls an older one forward, zeroing its counters.
func (u *Usage) Reconcile(ctx context.Context, accountID string) (*usage.Record, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ErrInvalidAccount
	}
	now := u.e.now()
	rec, err := u.e.store.ReconcileUsage(ctx, accountID, u.e.catalog.Lowest().ID, usage.PeriodOf(now), now)
	if err != nil {
		return nil, wrapFailure(CodeUsageFailed, "failed to reconcile usage", err)
	}
	return rec, nil
}

// Snapshot reports consumption without writing. A record from an earlier
// period reads as zero usage in the current one.
func (u *Usage) Snapshot(ctx context.Context, accountID string) (*usage.Snapshot, error) {
	rec, err := u.e.store.GetUsage(ctx, accountID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, wrapFailure(CodeUsageFailed, "failed to load usage", err)
	}
	return u.snapshot(accountID, rec, u.effectivePlan(ctx, accountID, rec)), nil
}

// Get reconciles the account into the current period and reports its
// consumption.
func (u *Usage) Get(ctx context.Context, accountID string) (*usage.Snapshot, error) {
	rec, err := u.Reconcile(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return u.snapshot(rec.AccountID, rec, u.effectivePlan(ctx, rec.AccountID, rec)), nil
}

func (u *Usage) snapshot(accountID string, rec *usage.Record, p *plan.Plan) *usage.Snapshot {
	now := u.e.now()
	period := usage.PeriodOf(now)

	snap := &usage.Snapshot{
		AccountID: accountID,
		PlanID:    p.ID,
		Period:    period,
		Limits:    make(map[usage.Action]int64, 3),
		Remaining: make(map[usage.Action]int64, 3),
		ResetAt:   period.Start(),
	}
	if rec != nil && rec.Period == period {
		snap.Counters = rec.Counters
		snap.ResetAt = rec.ResetAt
	}
	for _, a := range []usage.Action{usage.ActionAudit, usage.ActionStack, usage.ActionAPI} {
		snap.Limits[a] = p.Limit(a.Quota())
		snap.Remaining[a] = p.Remaining(a.Quota(), snap.Counters.Get(a.Counter()))
	}
	return snap
}

// EffectivePlan resolves the plan that governs accountID right now.
func (u *Usage) EffectivePlan(ctx context.Context, accountID string) (*plan.Plan, error) {
	rec, err := u.e.store.GetUsage(ctx, accountID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, wrapFailure(CodeUsageFailed, "failed to load usage", err)
	}
	return u.effectivePlan(ctx, accountID, rec), nil
}

// effectivePlan prefers the plan of an entitled subscription, then the
// stored assignment, then the lowest plan. Lookup failures degrade to the
// assignment.
func (u *Usage) effectivePlan(ctx context.Context, accountID string, rec *usage.Record) *plan.Plan {
	assigned := u.e.catalog.Lowest()
	if rec != nil {
		if p, ok := u.e.catalog.Lookup(rec.PlanID); ok {
			assigned = p
		}
	}

	cust, err := u.e.store.GetCustomer(ctx, accountID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			u.e.logger.Warn("billing: customer lookup failed during plan resolution",
				"account_id", accountID,
				"error", err,
			)
		}
		return assigned
	}

	sub, err := u.e.subscriptions.GetActive(ctx, cust.ExternalID)
	if err != nil {
		u.e.logger.Warn("billing: subscription lookup failed during plan resolution",
			"account_id", accountID,
			"error", err,
		)
		return assigned
	}
	if !sub.Entitled() {
		return assigned
	}
	p, ok := u.e.catalog.Lookup(sub.PlanID)
	if !ok {
		return assigned
	}

	if rec != nil && rec.PlanID != p.ID {
		if err := u.e.store.AssignUsagePlan(ctx, accountID, p.ID, usage.PeriodOf(u.e.now())); err != nil {
			u.e.logger.Warn("billing: plan assignment repair failed",
				"account_id", accountID,
				"plan", p.ID,
				"error", err,
			)
		}
	}
	return p
}

// Record consumes one unit of action. It fails with a *LimitError when the
// account's quota for the current period is used up; the counter is then
// left unchanged.
func (u *Usage) Record(ctx context.Context, accountID string, action usage.Action) (*usage.Snapshot, error) {
	if _, ok := usage.ParseAction(string(action)); !ok {
		return nil, ErrInvalidAction
	}

	rec, err := u.Reconcile(ctx, accountID)
	if err != nil {
		return nil, err
	}
	accountID = rec.AccountID
	p := u.effectivePlan(ctx, accountID, rec)
	limit := p.Limit(action.Quota())
	period := usage.PeriodOf(u.e.now())

	used, err := u.e.store.IncrementUsage(ctx, accountID, period, action.Counter(), limit)
	if errors.Is(err, ErrNotFound) {
		// The period turned between reconcile and increment.
		if rec, err = u.Reconcile(ctx, accountID); err != nil {
			return nil, err
		}
		period = rec.Period
		used, err = u.e.store.IncrementUsage(ctx, accountID, period, action.Counter(), limit)
	}
	switch {
	case errors.Is(err, ErrLimitReached):
		return nil, u.limitError(ctx, accountID, action, p, limit)
	case err != nil:
		return nil, wrapFailure(CodeUsageFailed, "failed to record usage", err)
	}

	u.e.plugins.EmitUsageRecorded(ctx, accountID, action, used, limit)

	rec, err = u.e.store.GetUsage(ctx, accountID)
	if err != nil {
		return nil, wrapFailure(CodeUsageFailed, "failed to load usage", err)
	}
	return u.snapshot(accountID, rec, p), nil
}

func (u *Usage) limitError(ctx context.Context, accountID string, action usage.Action, p *plan.Plan, limit int64) error {
	used := limit
	if rec, err := u.e.store.GetUsage(ctx, accountID); err == nil {
		used = rec.Counters.Get(action.Counter())
	}

	u.e.logger.Info("billing quota exceeded",
		"account_id", accountID,
		"action", action,
		"plan", p.ID,
		"used", used,
		"limit", limit,
	)
	u.e.plugins.EmitQuotaExceeded(ctx, accountID, action, used, limit)

	return &LimitError{
		Action:     string(action),
		Limit:      limit,
		Used:       used,
		PlanID:     p.ID,
		UpgradeURL: u.e.upgradeURL,
	}
}

// RecordAudit consumes one audit.
func (u *Usage) RecordAudit(ctx context.Context, accountID string) (*usage.Snapshot, error) {
	return u.Record(ctx, accountID, usage.ActionAudit)
}

// RecordStack consumes one stack.
func (u *Usage) RecordStack(ctx context.Context, accountID string) (*usage.Snapshot, error) {
	return u.Record(ctx, accountID, usage.ActionStack)
}

// RecordAPICall consumes one API call.
func (u *Usage) RecordAPICall(ctx context.Context, accountID string) (*usage.Snapshot, error) {
	return u.Record(ctx, accountID, usage.ActionAPI)
}

// CanPerform reports whether one more unit of action would be accepted.
// It never writes.
func (u *Usage) CanPerform(ctx context.Context, accountID string, action usage.Action) (usage.Decision, error) {
	if _, ok := usage.ParseAction(string(action)); !ok {
		return usage.Decision{Allowed: false, Action: action, Reason: "unknown action"}, nil
	}

	snap, err := u.Snapshot(ctx, accountID)
	if err != nil {
		return usage.Decision{}, err
	}
	p, err := u.e.catalog.Get(snap.PlanID)
	if err != nil {
		return usage.Decision{}, err
	}

	used := snap.Counters.Get(action.Counter())
	d := usage.Decision{
		Action:    action,
		PlanID:    p.ID,
		Used:      used,
		Limit:     p.Limit(action.Quota()),
		Remaining: p.Remaining(action.Quota(), used),
		Unlimited: p.IsUnlimited(action.Quota()),
	}
	d.Allowed = p.Within(action.Quota(), used)
	if !d.Allowed {
		d.Reason = action.Label() + " limit reached"
	}
	return d, nil
}

// AssignPlan records planID as the account's plan assignment.
func (u *Usage) AssignPlan(ctx context.Context, accountID string, planID plan.ID) error {
	if !u.e.catalog.Has(planID) {
		return ErrInvalidPlan
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ErrInvalidAccount
	}

	from := u.e.catalog.Lowest().ID
	rec, err := u.e.store.GetUsage(ctx, accountID)
	switch {
	case err == nil:
		from = rec.PlanID
	case !errors.Is(err, ErrNotFound):
		return wrapFailure(CodeUsageFailed, "failed to load usage", err)
	}

	if err := u.e.store.AssignUsagePlan(ctx, accountID, planID, usage.PeriodOf(u.e.now())); err != nil {
		return wrapFailure(CodeUsageFailed, "failed to assign plan", err)
	}

	if rec == nil || from != planID {
		u.e.logger.Info("billing plan assigned",
			"account_id", accountID,
			"from", from,
			"to", planID,
		)
		u.e.plugins.EmitPlanAssigned(ctx, accountID, from, planID)
	}
	return nil
}
