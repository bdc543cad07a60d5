package mongo

import (
	"context"
	"os"
	"testing"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store/storetest"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
)

// openTestStore connects to TEST_MONGO_URI, drops the billing
// collections, and recreates their indexes.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set, skipping MongoDB tests")
	}
	ctx := context.Background()

	mdb := mongodriver.New()
	if err := mdb.Open(ctx, uri); err != nil {
		t.Fatalf("open mongo: %v", err)
	}
	db, err := grove.Open(mdb)
	if err != nil {
		t.Fatalf("grove open: %v", err)
	}
	s := New(db)
	t.Cleanup(func() { _ = s.Close() })

	for _, col := range []string{colCustomers, colSubscriptions, colCache, colUsage, colReceipts} {
		if err := s.mdb.Collection(col).Drop(ctx); err != nil {
			t.Fatalf("drop %s: %v", col, err)
		}
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTestStore(t) }, storetest.Options{})
}

func TestMigrationIndexes(t *testing.T) {
	idx := migrationIndexes()
	for _, col := range []string{colCustomers, colSubscriptions, colCache, colUsage, colReceipts} {
		if len(idx[col]) == 0 {
			t.Errorf("%s: no indexes", col)
		}
	}
	if len(idx[colCustomers]) != 2 {
		t.Errorf("customers: got %d indexes, want 2 unique", len(idx[colCustomers]))
	}
}

func TestNewUsageDoc(t *testing.T) {
	doc := newUsageDoc(plan.Free, usage.Period("2026-03"), now())
	if _, ok := doc["_id"]; ok {
		t.Error("doc carries _id")
	}
	if doc["plan_id"] != "free" || doc["period"] != "2026-03" {
		t.Errorf("doc: %v", doc)
	}
	if doc["audits"] != int64(0) {
		t.Errorf("audits: %v", doc["audits"])
	}
}

func TestCounterField(t *testing.T) {
	if f, err := counterField(usage.CounterStacks); err != nil || f != "stacks" {
		t.Errorf("stacks: %q %v", f, err)
	}
	if _, err := counterField(usage.Counter("$where")); err == nil {
		t.Error("unknown counter accepted")
	}
}
