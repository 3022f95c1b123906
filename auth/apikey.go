package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultAPIKeyHeader carries API keys.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKey is a registered key. Only its hash is kept.
type APIKey struct {
	ID        string
	Principal string
	TenantID  string
	Roles     []string
	ExpiresAt time.Time
}

// APIKeyAuthenticator validates static API keys.
type APIKeyAuthenticator struct {
	header string
	now    func() time.Time
	keys   map[string]APIKey // by sha256 hex
}

// NewAPIKeyAuthenticator creates an authenticator reading header. An empty
// header means DefaultAPIKeyHeader.
func NewAPIKeyAuthenticator(header string) *APIKeyAuthenticator {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return &APIKeyAuthenticator{header: header, now: time.Now, keys: make(map[string]APIKey)}
}

// Add registers plaintext key for info. Add is not safe for concurrent use
// with Authenticate; register keys at startup.
func (a *APIKeyAuthenticator) Add(key string, info APIKey) error {
	key = strings.TrimSpace(key)
	if key == "" || info.Principal == "" {
		return fmt.Errorf("%w: key and principal are required", ErrInvalidCredentials)
	}
	a.keys[HashAPIKey(key)] = info
	return nil
}

// Len returns the number of registered keys.
func (a *APIKeyAuthenticator) Len() int { return len(a.keys) }

// Name implements Authenticator.
func (a *APIKeyAuthenticator) Name() string { return string(MethodAPIKey) }

// Supports implements Authenticator.
func (a *APIKeyAuthenticator) Supports(r *http.Request) bool {
	return r.Header.Get(a.header) != ""
}

// Authenticate implements Authenticator. Keys are compared by SHA-256 hash.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, r *http.Request) (*Identity, error) {
	key := strings.TrimSpace(r.Header.Get(a.header))
	if key == "" {
		return nil, ErrMissingCredentials
	}
	info, ok := a.keys[HashAPIKey(key)]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	id := &Identity{
		Principal: info.Principal,
		TenantID:  info.TenantID,
		Roles:     append([]string(nil), info.Roles...),
		Method:    MethodAPIKey,
		Claims:    map[string]any{"key_id": info.ID},
		ExpiresAt: info.ExpiresAt,
	}
	if id.Expired(a.now()) {
		return nil, ErrTokenExpired
	}
	return id, nil
}

// HashAPIKey returns the hex SHA-256 of key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

var _ Authenticator = (*APIKeyAuthenticator)(nil)
