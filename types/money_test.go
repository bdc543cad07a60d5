package types

import (
	"encoding/json"
	"testing"
)

func TestMoneyFormat(t *testing.T) {
	tests := []struct {
		money   Money
		major   string
		display string
	}{
		{USD(4900), "49.00", "$49.00"},
		{USD(19900), "199.00", "$199.00"},
		{USD(1), "0.01", "$0.01"},
		{USD(0), "0.00", "$0.00"},
		{USD(-4900), "-49.00", "$-49.00"},
		{Money{Amount: 100, Currency: "jpy"}, "100", "¥100"},
		{Money{Amount: 250, Currency: "chf"}, "2.50", "CHF 2.50"},
	}

	for _, tt := range tests {
		t.Run(tt.display, func(t *testing.T) {
			if got := tt.money.FormatMajor(); got != tt.major {
				t.Errorf("FormatMajor: got %s, want %s", got, tt.major)
			}
			if got := tt.money.String(); got != tt.display {
				t.Errorf("String: got %s, want %s", got, tt.display)
			}
		})
	}
}

func TestMoneyPredicates(t *testing.T) {
	if !USD(0).IsZero() || USD(0).IsPositive() {
		t.Error("USD(0) should be zero and not positive")
	}
	if !USD(4900).IsPositive() {
		t.Error("USD(4900) should be positive")
	}
	if z := Zero("USD"); z.Currency != "usd" || !z.IsZero() {
		t.Errorf("Zero: got %+v", z)
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(USD(4900))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	expected := `{"amount":4900,"currency":"usd","display":"$49.00"}`
	if string(data) != expected {
		t.Errorf("JSON: got %s, want %s", data, expected)
	}

	var back Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if back != USD(4900) {
		t.Errorf("expected USD(4900), got %+v", back)
	}
}
