// Package subscription models processor subscriptions, their lifecycle
// states and the cache that fronts lookups.
package subscription

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
)

var ErrInvalidTransition = errors.New("subscription: invalid status transition")

// ParseStatus maps a processor status onto the local lifecycle. Processor
// states without a local counterpart collapse onto the closest one.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "incomplete":
		return StatusIncomplete, nil
	case "trialing":
		return StatusTrialing, nil
	case "active":
		return StatusActive, nil
	case "past_due", "unpaid", "paused":
		return StatusPastDue, nil
	case "canceled", "incomplete_expired":
		return StatusCanceled, nil
	default:
		return "", fmt.Errorf("subscription: unknown status %q", s)
	}
}

// Entitled reports whether the status grants the subscribed plan.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusTrialing
}

// Terminal reports whether no further transitions are accepted.
func (s Status) Terminal() bool {
	return s == StatusCanceled
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

var transitions = map[Status][]Status{
	StatusIncomplete: {StatusActive, StatusTrialing, StatusCanceled},
	StatusTrialing:   {StatusActive, StatusPastDue, StatusCanceled},
	StatusActive:     {StatusPastDue, StatusCanceled},
	StatusPastDue:    {StatusActive, StatusCanceled},
	StatusCanceled:   nil,
}

// CanTransition reports whether a subscription in from may move to to.
// Repeating the current state is always allowed so redeliveries are
// harmless; nothing leaves canceled.
func CanTransition(from, to Status) bool {
	if !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from → to.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
