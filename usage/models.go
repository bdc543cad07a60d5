// Package usage models per-account consumption within a monthly period.
package usage

import (
	"fmt"
	"time"

	"github.com/BitCodeHub/stackaudit-ai-sub001/id"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/types"
)

// Period is a calendar month in UTC, formatted "2006-01". Periods compare
// correctly as strings.
type Period string

const periodLayout = "2006-01"

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period(t.UTC().Format(periodLayout))
}

// ParsePeriod validates s.
func ParsePeriod(s string) (Period, error) {
	if _, err := time.Parse(periodLayout, s); err != nil {
		return "", fmt.Errorf("usage: invalid period %q: %w", s, err)
	}
	return Period(s), nil
}

// Start returns the first instant of the period.
func (p Period) Start() time.Time {
	t, err := time.Parse(periodLayout, string(p))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Next returns the following period.
func (p Period) Next() Period {
	return PeriodOf(p.Start().AddDate(0, 1, 0))
}

// AddMonths shifts the period by n months.
func (p Period) AddMonths(n int) Period {
	return PeriodOf(p.Start().AddDate(0, n, 0))
}

func (p Period) Before(o Period) bool { return p < o }

func (p Period) String() string { return string(p) }

// Counter names a tracked consumption column.
type Counter string

const (
	CounterAudits   Counter = "audits"
	CounterStacks   Counter = "stacks"
	CounterAPICalls Counter = "api_calls"
)

// Counters holds consumption for a period.
type Counters struct {
	Audits   int64 `json:"audits"`
	Stacks   int64 `json:"stacks"`
	APICalls int64 `json:"apiCalls"`
}

// Get returns the value of c.
func (c Counters) Get(counter Counter) int64 {
	switch counter {
	case CounterAudits:
		return c.Audits
	case CounterStacks:
		return c.Stacks
	case CounterAPICalls:
		return c.APICalls
	default:
		return 0
	}
}

// Add increments counter by n in place.
func (c *Counters) Add(counter Counter, n int64) {
	switch counter {
	case CounterAudits:
		c.Audits += n
	case CounterStacks:
		c.Stacks += n
	case CounterAPICalls:
		c.APICalls += n
	}
}

// Record is the single usage row of an account. It always describes the
// period it was last reconciled into.
type Record struct {
	types.Entity
	ID        id.UsageRecordID `json:"id"`
	AccountID string           `json:"account_id"`
	PlanID    plan.ID          `json:"plan_id"`
	Period    Period           `json:"period"`
	Counters  Counters         `json:"counters"`
	ResetAt   time.Time        `json:"reset_at"`
}

// NewRecord returns a zeroed record for accountID in period.
func NewRecord(accountID string, planID plan.ID, period Period, at time.Time) *Record {
	return &Record{
		Entity:    types.EntityAt(at),
		ID:        id.NewUsageRecordID(),
		AccountID: accountID,
		PlanID:    planID,
		Period:    period,
		ResetAt:   at.UTC(),
	}
}

// Rollover moves r into period, zeroing every counter. It reports false and
// leaves r untouched when period is not after r.Period.
func (r *Record) Rollover(period Period, at time.Time) bool {
	if !r.Period.Before(period) {
		return false
	}
	r.Period = period
	r.Counters = Counters{}
	r.ResetAt = at.UTC()
	r.UpdatedAt = at.UTC()
	return true
}

// Clone returns a copy of r.
func (r *Record) Clone() *Record {
	out := *r
	return &out
}

// Action is a billable operation.
type Action string

const (
	ActionAudit Action = "audit"
	ActionStack Action = "stack"
	ActionAPI   Action = "api"
)

// ParseAction validates s.
func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionAudit, ActionStack, ActionAPI:
		return a, true
	default:
		return "", false
	}
}

// Counter returns the counter an action consumes.
func (a Action) Counter() Counter {
	switch a {
	case ActionAudit:
		return CounterAudits
	case ActionStack:
		return CounterStacks
	case ActionAPI:
		return CounterAPICalls
	default:
		return ""
	}
}

// Quota returns the plan quota that bounds an action.
func (a Action) Quota() plan.Quota {
	switch a {
	case ActionAudit:
		return plan.QuotaAudits
	case ActionStack:
		return plan.QuotaStacks
	case ActionAPI:
		return plan.QuotaAPICalls
	default:
		return ""
	}
}

// Label is the human name used in limit messages.
func (a Action) Label() string {
	switch a {
	case ActionAudit:
		return "audits"
	case ActionStack:
		return "stacks"
	case ActionAPI:
		return "API calls"
	default:
		return string(a)
	}
}

// Snapshot is the read-only view of an account's consumption against its
// effective plan. Unlimited quotas report plan.Unlimited as limit and
// remaining.
type Snapshot struct {
	AccountID string           `json:"accountId"`
	PlanID    plan.ID          `json:"plan"`
	Period    Period           `json:"period"`
	Counters  Counters         `json:"usage"`
	Limits    map[Action]int64 `json:"limits"`
	Remaining map[Action]int64 `json:"remaining"`
	ResetAt   time.Time        `json:"resetAt"`
}

// Decision answers whether one more unit of an action is allowed.
type Decision struct {
	Allowed   bool    `json:"allowed"`
	Action    Action  `json:"action,omitempty"`
	PlanID    plan.ID `json:"plan,omitempty"`
	Used      int64   `json:"used"`
	Limit     int64   `json:"limit"`
	Remaining int64   `json:"remaining"`
	Unlimited bool    `json:"unlimited,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}
