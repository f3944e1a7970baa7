// Package auth handles credentials and session tokens.
//
// # Overview
//
// Passwords are hashed with bcrypt; input beyond bcrypt's 72-byte
// limit is truncated rather than rejected. Sessions use signed HS256
// JWTs: a short-lived access token authorizes requests and a
// long-lived refresh token mints new pairs.
//
// # Token Flow
//
// Login issues both tokens:
//
//	issuer := auth.NewTokenIssuer(cfg.Auth)
//	access, _ := issuer.IssueAccess(user.ID)
//	refresh, _ := issuer.IssueRefresh(user.ID)
//
// Requests present the access token; middleware resolves it back to a
// user:
//
//	userID, err := issuer.Parse(tokenString, auth.TokenTypeAccess)
//
// Refresh tokens are accepted only by the refresh endpoint. Both token
// types fail Parse with ErrInvalidToken when expired, tampered with,
// or presented where the other type is expected.
//
// # Related Packages
//
//   - pkg/middleware: bearer-token extraction and tenant binding
//   - pkg/orgs: user records and password reset tokens
package auth
