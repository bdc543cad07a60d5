package plan

import (
	"github.com/BitCodeHub/stackaudit-ai-sub001/types"
)

// ID names a plan tier. Plan ids are configuration, not generated.
type ID string

const (
	Free       ID = "free"
	Pro        ID = "pro"
	Enterprise ID = "enterprise"
)

func (id ID) String() string { return string(id) }

// Unlimited is the quota sentinel that bypasses limit checks.
const Unlimited int64 = -1

type Quota string

const (
	QuotaAudits      Quota = "audits_per_month"
	QuotaStacks      Quota = "stacks"
	QuotaAPICalls    Quota = "api_calls_per_month"
	QuotaTeamMembers Quota = "team_members"
	QuotaHistoryDays Quota = "history_days"
)

type Capability string

const (
	CapAPIAccess          Capability = "api_access"
	CapPrioritySupport    Capability = "priority_support"
	CapCustomRules        Capability = "custom_rules"
	CapCICDIntegration    Capability = "cicd_integration"
	CapExportReports      Capability = "export_reports"
	CapSSO                Capability = "sso"
	CapCustomIntegrations Capability = "custom_integrations"
	CapDedicatedSupport   Capability = "dedicated_support"
)

// Plan is an immutable tier definition. Callers must not mutate plans
// obtained from a Catalog.
type Plan struct {
	ID           ID                  `json:"id"`
	Name         string              `json:"name"`
	Rank         int                 `json:"rank"`
	Price        types.Money         `json:"price"`
	PriceID      string              `json:"price_id,omitempty"`
	Popular      bool                `json:"popular,omitempty"`
	Quotas       map[Quota]int64     `json:"quotas"`
	Capabilities map[Capability]bool `json:"capabilities"`
}

// Limit returns the quota for q. Quotas missing from the plan are zero.
func (p *Plan) Limit(q Quota) int64 {
	return p.Quotas[q]
}

// IsUnlimited reports whether q carries the Unlimited sentinel.
func (p *Plan) IsUnlimited(q Quota) bool {
	return p.Quotas[q] == Unlimited
}

// Within reports whether one more unit of q is allowed after used units.
func (p *Plan) Within(q Quota, used int64) bool {
	limit := p.Limit(q)
	return limit == Unlimited || used < limit
}

// Remaining returns the units of q left after used, or Unlimited.
func (p *Plan) Remaining(q Quota, used int64) int64 {
	limit := p.Limit(q)
	if limit == Unlimited {
		return Unlimited
	}
	return max(0, limit-used)
}

// Allows reports whether the plan grants capability c.
func (p *Plan) Allows(c Capability) bool {
	return p.Capabilities[c]
}

// IsPaid reports whether subscribing to the plan goes through checkout.
func (p *Plan) IsPaid() bool {
	return p.Price.IsPositive()
}

// Change is the direction of a move between two plans.
type Change string

const (
	Upgrade   Change = "upgrade"
	Downgrade Change = "downgrade"
	Same      Change = "same"
)

// Listing is the read-only pricing projection of a plan.
type Listing struct {
	ID             ID                  `json:"id"`
	Name           string              `json:"name"`
	Price          int64               `json:"price"`
	PriceFormatted string              `json:"priceFormatted"`
	Currency       string              `json:"currency"`
	Popular        bool                `json:"popular"`
	Quotas         map[Quota]int64     `json:"quotas"`
	Capabilities   map[Capability]bool `json:"capabilities"`
}
