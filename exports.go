package billing

import (
	"github.com/BitCodeHub/stackaudit-ai-sub001/id"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/types"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
)

// Re-exports so callers rarely need the leaf packages.

type (
	Money   = types.Money
	Entity  = types.Entity
	ID      = id.ID
	Prefix  = id.Prefix
	PlanID  = plan.ID
	Action  = usage.Action
	Counter = usage.Counter
)

var (
	USD       = types.USD
	Zero      = types.Zero
	NewEntity = types.NewEntity
)

const (
	PlanFree       = plan.Free
	PlanPro        = plan.Pro
	PlanEnterprise = plan.Enterprise

	ActionAudit = usage.ActionAudit
	ActionStack = usage.ActionStack
	ActionAPI   = usage.ActionAPI
)
