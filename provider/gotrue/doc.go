// Package gotrue implements sessionsync.IdentityProvider against a
// GoTrue-compatible authentication service. It handles the password and
// refresh-token grants, signed-token validation through the service's
// JWKS endpoint, and pushes session notifications to subscribers.
package gotrue
