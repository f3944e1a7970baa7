// Package billing moves organizations between subscription plans.
//
// # Overview
//
// Plan state changes only in response to verified provider webhook
// events. User actions start an external checkout or portal flow
// (Checkout); the resulting plan transition arrives later as an event
// consumed by Processor.
//
// # Event handling
//
// Four event types are handled:
//
//   - checkout.session.completed: sets the plan and subscription from
//     checkout metadata. Events missing required metadata are recorded
//     but change nothing.
//   - customer.subscription.updated: resolves the org by subscription
//     ID and re-derives the plan from the priced item via the
//     configured price table.
//   - customer.subscription.deleted: forces the org to free and clears
//     the subscription, regardless of current state.
//   - invoice.payment_failed: audit-only.
//
// # Idempotency
//
// Every event ID is recorded in billing_events. The existence check
// runs strictly before any mutation, so replaying an event is a
// successful no-op and a crash mid-processing can drop an event but
// never apply it twice.
package billing
