package plan

import "github.com/BitCodeHub/stackaudit-ai-sub001/types"

// Default price ids used when the environment does not configure them.
const (
	DefaultProPriceID        = "price_pro_monthly"
	DefaultEnterprisePriceID = "price_enterprise_monthly"
)

// PriceIDs maps paid tiers to processor price ids.
type PriceIDs struct {
	Pro        string `json:"pro" mapstructure:"pro" yaml:"pro"`
	Enterprise string `json:"enterprise" mapstructure:"enterprise" yaml:"enterprise"`
}

// Default returns the free/pro/enterprise catalog.
func Default(prices PriceIDs) *Catalog {
	if prices.Pro == "" {
		prices.Pro = DefaultProPriceID
	}
	if prices.Enterprise == "" {
		prices.Enterprise = DefaultEnterprisePriceID
	}

	return MustCatalog(
		&Plan{
			ID:    Free,
			Name:  "Free",
			Rank:  0,
			Price: types.USD(0),
			Quotas: map[Quota]int64{
				QuotaAudits:      5,
				QuotaStacks:      2,
				QuotaAPICalls:    0,
				QuotaTeamMembers: 1,
				QuotaHistoryDays: 7,
			},
			Capabilities: map[Capability]bool{},
		},
		&Plan{
			ID:      Pro,
			Name:    "Pro",
			Rank:    1,
			Price:   types.USD(4900),
			PriceID: prices.Pro,
			Popular: true,
			Quotas: map[Quota]int64{
				QuotaAudits:      100,
				QuotaStacks:      20,
				QuotaAPICalls:    Unlimited,
				QuotaTeamMembers: 5,
				QuotaHistoryDays: 90,
			},
			Capabilities: map[Capability]bool{
				CapAPIAccess:       true,
				CapCustomRules:     true,
				CapCICDIntegration: true,
				CapExportReports:   true,
			},
		},
		&Plan{
			ID:      Enterprise,
			Name:    "Enterprise",
			Rank:    2,
			Price:   types.USD(19900),
			PriceID: prices.Enterprise,
			Quotas: map[Quota]int64{
				QuotaAudits:      Unlimited,
				QuotaStacks:      Unlimited,
				QuotaAPICalls:    Unlimited,
				QuotaTeamMembers: Unlimited,
				QuotaHistoryDays: 365,
			},
			Capabilities: map[Capability]bool{
				CapAPIAccess:          true,
				CapPrioritySupport:    true,
				CapCustomRules:        true,
				CapCICDIntegration:    true,
				CapExportReports:      true,
				CapSSO:                true,
				CapCustomIntegrations: true,
				CapDedicatedSupport:   true,
			},
		},
	)
}
