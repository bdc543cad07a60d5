package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger used when the recorder fails.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) { e.logger = logger }
}

// WithEnabledActions audits only the listed actions.
func WithEnabledActions(actions ...string) Option {
	return func(e *Extension) { e.enabled = actionSet(actions) }
}

// WithDisabledActions audits everything except the listed actions. It
// narrows a preceding WithEnabledActions.
func WithDisabledActions(actions ...string) Option {
	return func(e *Extension) {
		if e.enabled == nil {
			e.enabled = actionSet(Actions)
		}
		for _, a := range actions {
			delete(e.enabled, a)
		}
	}
}

// Actions lists every action the extension emits.
var Actions = []string{
	ActionCustomerCreated,
	ActionCheckoutStarted,
	ActionSubscriptionCreated,
	ActionSubscriptionUpgraded,
	ActionSubscriptionDowngraded,
	ActionSubscriptionChanged,
	ActionSubscriptionCanceled,
	ActionSubscriptionReactivated,
	ActionPlanAssigned,
	ActionQuotaExceeded,
	ActionEntitlementDenied,
	ActionWebhookReceived,
	ActionWebhookProcessed,
	ActionPaymentSucceeded,
	ActionPaymentFailed,
}

func actionSet(actions []string) map[string]bool {
	set := make(map[string]bool, len(actions))
	for _, a := range actions {
		set[a] = true
	}
	return set
}
