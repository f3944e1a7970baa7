// Package api exposes the HTTP surface: auth, usage, documents, the
// assistant, billing, team management and org settings.
//
// All org-scoped routes sit behind the auth middleware, which binds the
// tenant context the storage layer requires. Billing webhooks
// authenticate by payload signature instead.
package api
