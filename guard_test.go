package billing_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"testing"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store/memory"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
)

type denialRecorder struct {
	mu     sync.Mutex
	denied []string
}

func (r *denialRecorder) Name() string { return "denials" }

func (r *denialRecorder) OnEntitlementDenied(_ context.Context, accountID, code, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denied = append(r.denied, accountID+":"+code+":"+detail)
	return nil
}

func TestRequirePlan(t *testing.T) {
	rec := &denialRecorder{}
	h := newHarness(t, billing.WithPlugin(rec))
	ctx := context.Background()
	h.subscribe(t, "acct_pro", plan.Pro, subscription.StatusActive)

	if _, err := h.eng.Guard().RequirePlan(ctx, billing.Identity{}); !errors.Is(err, billing.ErrNoAuth) {
		t.Errorf("anonymous: got %v, want ErrNoAuth", err)
	}

	p, err := h.eng.Guard().RequirePlan(ctx, billing.Identity{AccountID: "acct_pro"})
	if err != nil {
		t.Fatalf("pro account: %v", err)
	}
	if p.ID != plan.Pro {
		t.Errorf("plan: got %s", p.ID)
	}

	_, err = h.eng.Guard().RequirePlan(ctx, billing.Identity{AccountID: "acct_free"})
	var ae *billing.AccessError
	if !errors.As(err, &ae) {
		t.Fatalf("free account: got %v, want *AccessError", err)
	}
	if ae.Code != billing.CodePlanRequired || ae.CurrentPlan != plan.Free {
		t.Errorf("access error: %+v", ae)
	}
	if !slices.Equal(ae.RequiredPlans, []plan.ID{plan.Pro, plan.Enterprise}) {
		t.Errorf("RequiredPlans: %v", ae.RequiredPlans)
	}
	if ae.UpgradeURL != "/pricing" {
		t.Errorf("UpgradeURL: %s", ae.UpgradeURL)
	}
	if !errors.Is(err, billing.ErrPlanRequired) {
		t.Error("AccessError does not match ErrPlanRequired")
	}
	if billing.StatusCode(err) != http.StatusForbidden {
		t.Errorf("status: got %d", billing.StatusCode(err))
	}

	if _, err := h.eng.Guard().RequirePlan(ctx, billing.Identity{AccountID: "acct_pro"}, plan.Enterprise); !errors.Is(err, billing.ErrPlanRequired) {
		t.Errorf("pro account on enterprise gate: got %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.denied) != 2 || rec.denied[0] != "acct_free:PLAN_REQUIRED:free" {
		t.Errorf("denials: %v", rec.denied)
	}
}

func TestRequireFeature(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.subscribe(t, "acct_pro", plan.Pro, subscription.StatusActive)

	tests := []struct {
		name    string
		account string
		cap     plan.Capability
		allowed bool
	}{
		{"free api access", "acct_free", plan.CapAPIAccess, false},
		{"pro api access", "acct_pro", plan.CapAPIAccess, true},
		{"pro sso", "acct_pro", plan.CapSSO, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.eng.Guard().RequireFeature(ctx, billing.Identity{AccountID: tt.account}, tt.cap)
			if tt.allowed && err != nil {
				t.Fatalf("denied: %v", err)
			}
			if !tt.allowed {
				var ae *billing.AccessError
				if !errors.As(err, &ae) || ae.Code != billing.CodeFeatureRequired || ae.Feature != string(tt.cap) {
					t.Fatalf("got %v, want FEATURE_REQUIRED", err)
				}
			}
		})
	}
}

func TestPrecheckAndCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := range 2 {
		if _, err := h.eng.Guard().Precheck(ctx, "acct_1", usage.ActionStack); err != nil {
			t.Fatalf("precheck %d: %v", i+1, err)
		}
		if _, err := h.eng.Guard().Commit(ctx, "acct_1", usage.ActionStack); err != nil {
			t.Fatalf("commit %d: %v", i+1, err)
		}
	}

	d, err := h.eng.Guard().Precheck(ctx, "acct_1", usage.ActionStack)
	var le *billing.LimitError
	if !errors.As(err, &le) {
		t.Fatalf("precheck over limit: got %v", err)
	}
	if le.Limit != 2 || le.Used != 2 || d.Allowed {
		t.Errorf("limit error %+v, decision %+v", le, d)
	}

	if _, err := h.eng.Guard().Precheck(ctx, "acct_1", usage.Action("warp")); !errors.Is(err, billing.ErrInvalidAction) {
		t.Errorf("unknown action: got %v", err)
	}
}

type failingUsageStore struct {
	*memory.Store
}

func (failingUsageStore) GetUsage(context.Context, string) (*usage.Record, error) {
	return nil, errors.New("disk on fire")
}

func TestCurrentPlanFallsBackToIdentity(t *testing.T) {
	h := newHarness(t)
	eng := billing.New(failingUsageStore{h.store}, h.fake,
		billing.WithSweepSchedule(""),
		billing.WithLogger(slog.New(slog.DiscardHandler)),
	)
	ctx := context.Background()

	if p := eng.Guard().CurrentPlan(ctx, billing.Identity{AccountID: "acct_1", Plan: plan.Pro}); p.ID != plan.Pro {
		t.Errorf("claimed plan: got %s, want pro", p.ID)
	}
	if p := eng.Guard().CurrentPlan(ctx, billing.Identity{AccountID: "acct_1", Plan: "gold"}); p.ID != plan.Free {
		t.Errorf("unknown claimed plan: got %s, want free", p.ID)
	}
}

func TestClaimedPlanIgnoredWithoutBillingState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	claim := billing.Identity{AccountID: "acct_unbilled", Plan: plan.Pro}

	if p := h.eng.Guard().CurrentPlan(ctx, claim); p.ID != plan.Free {
		t.Errorf("CurrentPlan: got %s, want free", p.ID)
	}

	_, err := h.eng.Guard().RequirePlan(ctx, claim, plan.Pro)
	var ae *billing.AccessError
	if !errors.As(err, &ae) || ae.Code != billing.CodePlanRequired {
		t.Fatalf("RequirePlan: got %v, want PLAN_REQUIRED", err)
	}
	if ae.CurrentPlan != plan.Free {
		t.Errorf("CurrentPlan in denial: got %s, want free", ae.CurrentPlan)
	}

	h.subscribe(t, "acct_unbilled", plan.Pro, subscription.StatusActive)
	if _, err := h.eng.Guard().RequirePlan(ctx, billing.Identity{AccountID: "acct_unbilled", Plan: plan.Free}, plan.Pro); err != nil {
		t.Errorf("subscribed account with stale claim: %v", err)
	}
}
