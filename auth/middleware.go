package auth

import (
	"context"
	"errors"
	"net/http"
)

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	// Authenticator validates credentials. Nil treats every request as
	// unauthenticated.
	Authenticator Authenticator

	// Required rejects requests without valid credentials. Otherwise they
	// proceed with Anonymous().
	Required bool

	// OnError writes the rejection. Default: a plain 401.
	OnError func(w http.ResponseWriter, r *http.Request, err error)

	// OnInternalError is called for authenticator failures. Default: a plain 500.
	OnInternalError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware authenticates requests and stores the identity in the request
// context. Invalid credentials are always rejected, even when not Required.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.OnError == nil {
		cfg.OnError = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		}
	}
	if cfg.OnInternalError == nil {
		cfg.OnInternalError = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := authenticate(r.Context(), cfg.Authenticator, r)
			switch {
			case err == nil:
			case errors.Is(err, ErrMissingCredentials) && !cfg.Required:
				id = Anonymous()
			case IsCredentialError(err):
				cfg.OnError(w, r, err)
				return
			default:
				cfg.OnInternalError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func authenticate(ctx context.Context, a Authenticator, r *http.Request) (*Identity, error) {
	if a == nil || !a.Supports(r) {
		return nil, ErrMissingCredentials
	}
	return a.Authenticate(ctx, r)
}

// IsCredentialError reports whether err rejects the caller's credentials,
// as opposed to an internal failure.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrMissingCredentials) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenMalformed)
}
