// Package plan defines plan tiers and the static catalog that ranks them.
package plan

import (
	"errors"
	"fmt"
	"maps"
	"sort"
)

var (
	ErrUnknownPlan  = errors.New("plan: unknown plan")
	ErrEmptyCatalog = errors.New("plan: catalog has no plans")
)

// Catalog is a ranked, read-only set of plans. It is safe for concurrent use.
type Catalog struct {
	plans     []*Plan
	byID      map[ID]*Plan
	byPriceID map[string]*Plan
}

// NewCatalog validates plans and orders them by rank. Ids and ranks must be
// unique.
func NewCatalog(plans ...*Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{
		plans:     make([]*Plan, 0, len(plans)),
		byID:      make(map[ID]*Plan, len(plans)),
		byPriceID: make(map[string]*Plan),
	}
	ranks := make(map[int]ID, len(plans))

	for _, p := range plans {
		if p == nil || p.ID == "" {
			return nil, errors.New("plan: plan id is required")
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("plan: duplicate plan id %q", p.ID)
		}
		if other, dup := ranks[p.Rank]; dup {
			return nil, fmt.Errorf("plan: %q and %q share rank %d", other, p.ID, p.Rank)
		}
		if p.IsPaid() && p.PriceID == "" {
			return nil, fmt.Errorf("plan: paid plan %q has no price id", p.ID)
		}

		ranks[p.Rank] = p.ID
		c.byID[p.ID] = p
		if p.PriceID != "" {
			c.byPriceID[p.PriceID] = p
		}
		c.plans = append(c.plans, p)
	}

	sort.SliceStable(c.plans, func(i, j int) bool { return c.plans[i].Rank < c.plans[j].Rank })
	return c, nil
}

// MustCatalog is like NewCatalog but panics on invalid configuration.
func MustCatalog(plans ...*Plan) *Catalog {
	c, err := NewCatalog(plans...)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the plan with the given id.
func (c *Catalog) Get(id ID) (*Plan, error) {
	p, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, id)
	}
	return p, nil
}

// Lookup is Get without the error.
func (c *Catalog) Lookup(id ID) (*Plan, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Has reports whether id names a plan in the catalog.
func (c *Catalog) Has(id ID) bool {
	_, ok := c.byID[id]
	return ok
}

// List returns all plans in rank order.
func (c *Catalog) List() []*Plan {
	out := make([]*Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Paid returns the plans that require checkout, in rank order.
func (c *Catalog) Paid() []*Plan {
	var out []*Plan
	for _, p := range c.plans {
		if p.IsPaid() {
			out = append(out, p)
		}
	}
	return out
}

// PaidIDs returns the ids of Paid.
func (c *Catalog) PaidIDs() []ID {
	var out []ID
	for _, p := range c.Paid() {
		out = append(out, p.ID)
	}
	return out
}

// Lowest returns the lowest-ranked plan, the downgrade target.
func (c *Catalog) Lowest() *Plan {
	return c.plans[0]
}

// ByPriceID maps a processor price id back to its plan.
func (c *Catalog) ByPriceID(priceID string) (*Plan, bool) {
	p, ok := c.byPriceID[priceID]
	return p, ok
}

// ResolvePriceID is ByPriceID falling back to the lowest plan.
func (c *Catalog) ResolvePriceID(priceID string) *Plan {
	if p, ok := c.byPriceID[priceID]; ok {
		return p
	}
	return c.Lowest()
}

// Compare reports whether moving from a to b is an upgrade, a downgrade or
// no change.
func (c *Catalog) Compare(a, b ID) (Change, error) {
	from, err := c.Get(a)
	if err != nil {
		return "", err
	}
	to, err := c.Get(b)
	if err != nil {
		return "", err
	}

	switch {
	case to.Rank > from.Rank:
		return Upgrade, nil
	case to.Rank < from.Rank:
		return Downgrade, nil
	default:
		return Same, nil
	}
}

// Pricing projects the catalog for display.
func (c *Catalog) Pricing() []Listing {
	out := make([]Listing, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, Listing{
			ID:             p.ID,
			Name:           p.Name,
			Price:          p.Price.Amount,
			PriceFormatted: p.Price.String(),
			Currency:       p.Price.Currency,
			Popular:        p.Popular,
			Quotas:         maps.Clone(p.Quotas),
			Capabilities:   maps.Clone(p.Capabilities),
		})
	}
	return out
}
