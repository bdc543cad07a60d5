package billing

import (
	"context"
	"slices"

	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
)

// Identity is the authenticated caller as seen by entitlement checks. Plan
// is the caller's claimed plan and is only consulted when the engine cannot
// resolve one.
type Identity struct {
	AccountID string
	Plan      plan.ID
	Email     string
}

// Guard enforces plan, feature and quota entitlements.
type Guard struct {
	e *Engine
}

// CurrentPlan resolves the plan the identity is entitled to from billing
// state. An account with no customer mapping or assignment is on the lowest
// plan whatever it claims; the claimed plan is used only when that state
// cannot be read.
func (g *Guard) CurrentPlan(ctx context.Context, id Identity) *plan.Plan {
	p, err := g.e.usage.EffectivePlan(ctx, id.AccountID)
	if err == nil {
		return p
	}
	g.e.logger.Warn("billing: plan resolution failed, using identity plan",
		"account_id", id.AccountID,
		"error", err,
	)
	if p, ok := g.e.catalog.Lookup(id.Plan); ok {
		return p
	}
	return g.e.catalog.Lowest()
}

// RequirePlan admits identities on one of allowed. With no plans given,
// any paid plan is admitted.
func (g *Guard) RequirePlan(ctx context.Context, id Identity, allowed ...plan.ID) (*plan.Plan, error) {
	if id.AccountID == "" {
		return nil, ErrNoAuth
	}
	if len(allowed) == 0 {
		allowed = g.e.catalog.PaidIDs()
	}

	p := g.CurrentPlan(ctx, id)
	if slices.Contains(allowed, p.ID) {
		return p, nil
	}

	g.e.plugins.EmitEntitlementDenied(ctx, id.AccountID, string(CodePlanRequired), string(p.ID))
	return p, &AccessError{
		Code:          CodePlanRequired,
		CurrentPlan:   p.ID,
		RequiredPlans: allowed,
		UpgradeURL:    g.e.upgradeURL,
	}
}

// RequireFeature admits identities whose plan grants capability.
func (g *Guard) RequireFeature(ctx context.Context, id Identity, capability plan.Capability) (*plan.Plan, error) {
	if id.AccountID == "" {
		return nil, ErrNoAuth
	}

	p := g.CurrentPlan(ctx, id)
	if p.Allows(capability) {
		return p, nil
	}

	g.e.plugins.EmitEntitlementDenied(ctx, id.AccountID, string(CodeFeatureRequired), string(capability))
	return p, &AccessError{
		Code:        CodeFeatureRequired,
		CurrentPlan: p.ID,
		Feature:     string(capability),
		UpgradeURL:  g.e.upgradeURL,
	}
}

// Precheck reports a *LimitError when action would be rejected. It does
// not consume quota.
func (g *Guard) Precheck(ctx context.Context, accountID string, action usage.Action) (usage.Decision, error) {
	if _, ok := usage.ParseAction(string(action)); !ok {
		return usage.Decision{Action: action, Reason: "unknown action"}, ErrInvalidAction
	}
	d, err := g.e.usage.CanPerform(ctx, accountID, action)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		return d, &LimitError{
			Action:     string(action),
			Limit:      d.Limit,
			Used:       d.Used,
			PlanID:     d.PlanID,
			UpgradeURL: g.e.upgradeURL,
		}
	}
	return d, nil
}

// Commit consumes one unit of action after the guarded work succeeded.
func (g *Guard) Commit(ctx context.Context, accountID string, action usage.Action) (*usage.Snapshot, error) {
	return g.e.usage.Record(ctx, accountID, action)
}
