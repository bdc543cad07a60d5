package plan

import (
	"errors"
	"testing"

	"github.com/BitCodeHub/stackaudit-ai-sub001/types"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default(PriceIDs{Pro: "price_p"})

	list := c.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(list))
	}
	for i, want := range []ID{Free, Pro, Enterprise} {
		if list[i].ID != want {
			t.Errorf("plan %d: got %s, want %s", i, list[i].ID, want)
		}
	}

	if c.Lowest().ID != Free {
		t.Errorf("Lowest: got %s", c.Lowest().ID)
	}

	pro, _ := c.Lookup(Pro)
	if pro.PriceID != "price_p" {
		t.Errorf("pro price id: got %s", pro.PriceID)
	}
	ent, _ := c.Lookup(Enterprise)
	if ent.PriceID != DefaultEnterprisePriceID {
		t.Errorf("enterprise price id: got %s", ent.PriceID)
	}
}

func TestCompare(t *testing.T) {
	c := Default(PriceIDs{})

	tests := []struct {
		from, to ID
		want     Change
	}{
		{Free, Pro, Upgrade},
		{Free, Enterprise, Upgrade},
		{Enterprise, Pro, Downgrade},
		{Pro, Free, Downgrade},
		{Pro, Pro, Same},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, err := c.Compare(tt.from, tt.to)
			if err != nil {
				t.Fatalf("Compare error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := c.Compare(Free, "platinum"); !errors.Is(err, ErrUnknownPlan) {
		t.Errorf("expected ErrUnknownPlan, got %v", err)
	}
}

func TestQuotasAndCapabilities(t *testing.T) {
	c := Default(PriceIDs{})
	free, _ := c.Lookup(Free)
	pro, _ := c.Lookup(Pro)
	ent, _ := c.Lookup(Enterprise)

	if !free.Within(QuotaAudits, 4) || free.Within(QuotaAudits, 5) {
		t.Error("free audits should allow 5")
	}
	if free.Within(QuotaAPICalls, 0) {
		t.Error("free plan should have no api calls")
	}
	if !pro.Within(QuotaAPICalls, 1_000_000) {
		t.Error("pro api calls should be unlimited")
	}
	if got := free.Remaining(QuotaStacks, 5); got != 0 {
		t.Errorf("Remaining over limit: got %d", got)
	}
	if got := ent.Remaining(QuotaAudits, 99); got != Unlimited {
		t.Errorf("Remaining unlimited: got %d", got)
	}

	if free.Allows(CapAPIAccess) {
		t.Error("free should not allow api access")
	}
	if !pro.Allows(CapExportReports) || pro.Allows(CapSSO) {
		t.Error("pro capabilities mismatch")
	}
	if !ent.Allows(CapSSO) {
		t.Error("enterprise should allow sso")
	}
}

func TestByPriceID(t *testing.T) {
	c := Default(PriceIDs{})

	p, ok := c.ByPriceID(DefaultProPriceID)
	if !ok || p.ID != Pro {
		t.Errorf("ByPriceID: got %v, %v", p, ok)
	}
	if _, ok := c.ByPriceID("price_missing"); ok {
		t.Error("expected miss for unknown price id")
	}
	if got := c.ResolvePriceID("price_missing"); got.ID != Free {
		t.Errorf("ResolvePriceID fallback: got %s", got.ID)
	}
}

func TestPricing(t *testing.T) {
	c := Default(PriceIDs{})
	listings := c.Pricing()

	if listings[0].PriceFormatted != "$0.00" || listings[1].PriceFormatted != "$49.00" ||
		listings[2].PriceFormatted != "$199.00" {
		t.Errorf("unexpected formatting: %+v", listings)
	}
	if !listings[1].Popular || listings[2].Popular {
		t.Error("only pro should be popular")
	}

	listings[0].Quotas[QuotaAudits] = 1000
	free, _ := c.Lookup(Free)
	if free.Limit(QuotaAudits) != 5 {
		t.Error("Pricing must not expose catalog maps")
	}
	if ids := c.PaidIDs(); len(ids) != 2 || ids[0] != Pro {
		t.Errorf("PaidIDs: got %v", ids)
	}
}

func TestNewCatalogValidation(t *testing.T) {
	if _, err := NewCatalog(); !errors.Is(err, ErrEmptyCatalog) {
		t.Errorf("expected ErrEmptyCatalog, got %v", err)
	}

	a := &Plan{ID: "a", Rank: 0, Price: types.USD(0)}
	if _, err := NewCatalog(a, &Plan{ID: "a", Rank: 1}); err == nil {
		t.Error("expected duplicate id error")
	}
	if _, err := NewCatalog(a, &Plan{ID: "b", Rank: 0}); err == nil {
		t.Error("expected duplicate rank error")
	}
	if _, err := NewCatalog(a, &Plan{ID: "b", Rank: 1, Price: types.USD(100)}); err == nil {
		t.Error("expected missing price id error")
	}

	c, err := NewCatalog(&Plan{ID: "b", Rank: 5}, a)
	if err != nil {
		t.Fatalf("NewCatalog error: %v", err)
	}
	if c.Lowest().ID != "a" {
		t.Errorf("catalog should sort by rank, lowest got %s", c.Lowest().ID)
	}
	if _, err := c.Get("zzz"); !errors.Is(err, ErrUnknownPlan) {
		t.Errorf("expected ErrUnknownPlan, got %v", err)
	}
}
