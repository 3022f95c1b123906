package auth

import (
	"context"
	"net/http"
)

// Authenticator validates request credentials.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: a rejected credential is (nil, err) with err matching one of
//     the package sentinels. Other errors are internal failures.
//   - Supports must not consume the request body.
type Authenticator interface {
	Name() string
	Supports(r *http.Request) bool
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// Chain tries authenticators in order and uses the first that supports the
// request.
type Chain []Authenticator

// Name implements Authenticator.
func (Chain) Name() string { return "chain" }

// Supports implements Authenticator.
func (c Chain) Supports(r *http.Request) bool {
	for _, a := range c {
		if a.Supports(r) {
			return true
		}
	}
	return false
}

// Authenticate implements Authenticator. A request no authenticator
// supports fails with ErrMissingCredentials.
func (c Chain) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	for _, a := range c {
		if a.Supports(r) {
			return a.Authenticate(ctx, r)
		}
	}
	return nil, ErrMissingCredentials
}

var _ Authenticator = Chain(nil)
