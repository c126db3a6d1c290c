// Package auth defines the identity boundary used across the backend.
//
// It is the single place that owns principal lifecycle, passkey ceremonies,
// and session token issuance so other services can depend on stable
// principal IDs and authorization checks instead of re-implementing
// identity rules.
//
// Subpackages:
//   - webauthn: registration and authentication ceremony engine
//   - token: access/refresh session tokens with rotation
//   - httpapi: HTTP surface for ceremonies, tokens, and the inbox
//   - authz: the owner-or-read-only mutation predicate
//   - principal: principal domain model and helpers
//   - storage: persistence interfaces and SQLite implementations
package auth
