package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/BitCodeHub/stackaudit-ai-sub001/store"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store/storetest"
	"github.com/BitCodeHub/stackaudit-ai-sub001/usage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	dsn := filepath.Join(t.TempDir(), "billing.db") + "?_pragma=busy_timeout(10000)"
	sdb := sqlitedriver.New()
	if err := sdb.Open(ctx, dsn); err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		t.Fatalf("grove open: %v", err)
	}
	s := New(db)
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTestStore(t) }, storetest.Options{Writers: 40})
}

func TestMigrateIsRepeatable(t *testing.T) {
	s := openTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 30, 15, 0, time.UTC)
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"stored layout", formatTime(want), want},
		{"rfc3339", "2026-03-01T12:30:15Z", want},
		{"sqlite default", "2026-03-01 12:30:15", want},
		{"empty", "", time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTime(tt.in)
			if err != nil {
				t.Fatalf("parseTime(%q): %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
	if _, err := parseTime("yesterday"); err == nil {
		t.Error("garbage timestamp accepted")
	}
}

func TestFormatTimeOrdersLexically(t *testing.T) {
	early := time.Date(2026, 3, 1, 9, 0, 0, 5, time.FixedZone("EST", -5*3600))
	late := time.Date(2026, 3, 1, 14, 0, 0, 10, time.UTC)
	if formatTime(early) >= formatTime(late) {
		t.Errorf("%s sorts after %s", formatTime(early), formatTime(late))
	}
}

func TestCounterColumnRejectsUnknown(t *testing.T) {
	if _, err := counterColumn(usage.Counter("seats")); err == nil {
		t.Fatal("unknown counter accepted")
	}
	col, err := counterColumn(usage.CounterAPICalls)
	if err != nil || col != "api_calls" {
		t.Errorf("got %q, %v", col, err)
	}
}

func TestWrapPrefix(t *testing.T) {
	err := wrap("purge usage", errors.New("locked"))
	if err.Error() != "billing/sqlite: purge usage: locked" {
		t.Errorf("message: %q", err.Error())
	}
}
