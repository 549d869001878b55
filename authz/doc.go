// Package authz implements the authorization gate for approval
// decisions: JWT validation with issuer, audience, expiry, and role
// claims, and an ordered role hierarchy VIEWER < OPERATOR < APPROVER <
// ADMIN.
//
// The gate is an explicit object invoked at the top of each handler, not
// middleware. It distinguishes two failure classes: a missing, invalid,
// expired, or claim-less token is ErrUnauthorized (401); a valid token
// whose role sits below the required level is ErrForbidden (403).
package authz
