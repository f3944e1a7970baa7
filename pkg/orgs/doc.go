// Package orgs provides multi-tenant organization management.
//
// # Overview
//
// This package manages organizations, membership, invites and password
// resets. An organization is the tenancy root: every user belongs to
// exactly one org, and every piece of tenant data carries its org's ID.
//
// Org-scoped reads and writes go through the storage layer's scoped
// transactions, which bind the org to the connection before any
// statement runs. Methods that execute before a tenant exists
// (registration, login, invite redemption, webhook resolution) run
// unscoped and are the only ones that do.
//
// # Seats
//
// Membership consumes seats tracked in the usage ledger. Creating an
// org takes the first seat for the owner; accepting an invite takes
// one more; removing a member releases one. Seat limits themselves are
// enforced by the limits package before the mutation is attempted.
package orgs
