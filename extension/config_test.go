package extension

import (
	"testing"
	"time"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{SweepSchedule: "@hourly"})

	if cfg.SweepSchedule != "@hourly" {
		t.Errorf("SweepSchedule overwritten: %q", cfg.SweepSchedule)
	}
	if cfg.BasePath != "/billing" {
		t.Errorf("BasePath: got %q", cfg.BasePath)
	}
	if cfg.SubscriptionCacheTTL != time.Minute {
		t.Errorf("SubscriptionCacheTTL: got %v", cfg.SubscriptionCacheTTL)
	}
	if cfg.UsageRetentionMonths != 12 {
		t.Errorf("UsageRetentionMonths: got %d", cfg.UsageRetentionMonths)
	}
}

func TestMergeConfigurations(t *testing.T) {
	tests := []struct {
		name       string
		file, prog Config
		check      func(Config) bool
	}{
		{
			name:  "file wins",
			file:  Config{BasePath: "/pay"},
			prog:  Config{BasePath: "/billing2"},
			check: func(c Config) bool { return c.BasePath == "/pay" },
		},
		{
			name:  "programmatic fills gaps",
			prog:  Config{AppURL: "https://app.example.com"},
			check: func(c Config) bool { return c.AppURL == "https://app.example.com" },
		},
		{
			name:  "true flag sticks",
			file:  Config{DisableMigrate: false},
			prog:  Config{DisableMigrate: true},
			check: func(c Config) bool { return c.DisableMigrate },
		},
		{
			name:  "defaults last",
			check: func(c Config) bool { return c.UpgradeURL == "/pricing" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mergeConfigurations(tt.file, tt.prog); !tt.check(got) {
				t.Errorf("unexpected config: %+v", got)
			}
		})
	}
}

func TestEngineOptionsWithoutRegister(t *testing.T) {
	e := New(WithDisableMigrate())
	e.config = mergeWithDefaults(e.config)

	if n := len(e.engineOptions()); n != 6 {
		t.Errorf("got %d options, want 6", n)
	}
	if e.Handler() != nil {
		t.Error("Handler before Register should be nil")
	}
}
