// Package auth authenticates agent run requests and authorizes callers per
// agent kind.
//
// Authenticators turn request headers into an Identity: HMAC-signed JWT
// bearer tokens or static API keys, tried in order by a Chain. Middleware
// stores the identity in the request context, where the guardrail package
// reads the principal as the default rate-limit identifier. A RoleAuthorizer
// restricts which agent kinds each role may run.
package auth
