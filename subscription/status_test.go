package subscription

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusIncomplete, StatusActive, true},
		{StatusIncomplete, StatusTrialing, true},
		{StatusIncomplete, StatusPastDue, false},
		{StatusTrialing, StatusActive, true},
		{StatusTrialing, StatusPastDue, true},
		{StatusActive, StatusPastDue, true},
		{StatusActive, StatusCanceled, true},
		{StatusActive, StatusTrialing, false},
		{StatusActive, StatusIncomplete, false},
		{StatusPastDue, StatusActive, true},
		{StatusActive, StatusActive, true},
		{StatusCanceled, StatusCanceled, true},
		{StatusCanceled, StatusActive, false},
		{StatusCanceled, StatusTrialing, false},
		{StatusActive, "bogus", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if err := Transition(StatusCanceled, StatusActive); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	tests := map[string]Status{
		"active":             StatusActive,
		"trialing":           StatusTrialing,
		"incomplete":         StatusIncomplete,
		"incomplete_expired": StatusCanceled,
		"unpaid":             StatusPastDue,
		"paused":             StatusPastDue,
		"past_due":           StatusPastDue,
		"canceled":           StatusCanceled,
	}
	for in, want := range tests {
		got, err := ParseStatus(in)
		if err != nil {
			t.Fatalf("ParseStatus(%q) error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseStatus(%q): got %s, want %s", in, got, want)
		}
	}
	if _, err := ParseStatus("exploded"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestEntitled(t *testing.T) {
	var none *Subscription
	if none.Entitled() {
		t.Error("nil subscription should not be entitled")
	}
	if !(&Subscription{Status: StatusTrialing}).Entitled() {
		t.Error("trialing should be entitled")
	}
	if (&Subscription{Status: StatusPastDue}).Entitled() {
		t.Error("past_due should not be entitled")
	}
}

func TestEntryFresh(t *testing.T) {
	now := time.Now()
	e := &Entry{FetchedAt: now.Add(-30 * time.Second)}
	if !e.Fresh(now, time.Minute) {
		t.Error("entry should be fresh")
	}
	if e.Fresh(now, 10*time.Second) {
		t.Error("entry should be stale")
	}

	cancelAt := now
	s := &Subscription{ID: "sub_1", CancelAt: &cancelAt}
	c := s.Clone()
	*c.CancelAt = now.Add(time.Hour)
	if !s.CancelAt.Equal(now) {
		t.Error("Clone must deep-copy CancelAt")
	}
}
