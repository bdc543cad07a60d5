package audithook

// Actions recorded in the audit trail.
const (
	ActionCustomerCreated = "customer.created"
	ActionCheckoutStarted = "checkout.started"

	ActionSubscriptionCreated     = "subscription.created"
	ActionSubscriptionUpgraded    = "subscription.upgraded"
	ActionSubscriptionDowngraded  = "subscription.downgraded"
	ActionSubscriptionChanged     = "subscription.changed"
	ActionSubscriptionCanceled    = "subscription.canceled"
	ActionSubscriptionReactivated = "subscription.reactivated"

	ActionPlanAssigned      = "plan.assigned"
	ActionQuotaExceeded     = "quota.exceeded"
	ActionEntitlementDenied = "entitlement.denied"

	ActionWebhookReceived  = "webhook.received"
	ActionWebhookProcessed = "webhook.processed"
	ActionPaymentSucceeded = "payment.succeeded"
	ActionPaymentFailed    = "payment.failed"
)

// Resources.
const (
	ResourceCustomer     = "customer"
	ResourceCheckout     = "checkout"
	ResourceSubscription = "subscription"
	ResourceAccount      = "account"
	ResourceWebhook      = "webhook"
	ResourceInvoice      = "invoice"
)

// Categories.
const (
	CategoryBilling      = "billing"
	CategorySubscription = "subscription"
	CategoryUsage        = "usage"
	CategoryAccess       = "access"
	CategoryPayment      = "payment"
	CategoryIntegration  = "integration"
)

// Severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)
