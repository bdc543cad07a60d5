// Package billing is the metering and entitlement core of a subscription
// SaaS product.
//
// It is a library, not a service. The Engine ties together a plan catalog,
// a customer registry mapping accounts to payment-processor customers, a
// cached view of each customer's active subscription, a per-period usage
// ledger and a webhook dispatcher that keeps all of it in sync with the
// processor.
//
// # Quick Start
//
//	import (
//	    billing "github.com/BitCodeHub/stackaudit-ai-sub001"
//	    "github.com/BitCodeHub/stackaudit-ai-sub001/provider/stripe"
//	    "github.com/BitCodeHub/stackaudit-ai-sub001/store/postgres"
//	)
//
//	// db is a *grove.DB opened on the pg driver by the host application.
//	s := postgres.New(db)
//
//	eng := billing.New(s, stripe.New(secretKey),
//	    billing.WithVerifier(stripe.NewVerifier(webhookSecret)),
//	    billing.WithAppURL("https://app.example.com"),
//	)
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop(ctx)
//
// # Metering
//
// Usage is counted per account and calendar month (UTC). Each Record call
// is one atomic compare-and-increment in the store, so the counter never
// exceeds the plan quota under concurrency:
//
//	if _, err := eng.Usage().RecordAudit(ctx, accountID); err != nil {
//	    var le *billing.LimitError
//	    if errors.As(err, &le) {
//	        // le.Limit, le.Used, le.UpgradeURL
//	    }
//	}
//
// # Plan resolution
//
// The plan that governs an account is the plan of its entitled
// subscription when one exists, else the plan assignment recorded by
// webhooks, else the lowest plan in the catalog.
//
// # Webhooks
//
// Deliveries are verified before anything in them is trusted, deduplicated
// by event id and dispatched over a closed set of event kinds. Events the
// engine does not act on are acknowledged and reported as unhandled.
package billing
