package auth

import (
	"context"
	"fmt"
	"path"
	"slices"
)

// ActionRun is the action checked before an agent run.
const ActionRun = "run"

// Authorizer decides whether an identity may act on an agent kind.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: a denial is an *AuthzError matching ErrForbidden.
type Authorizer interface {
	Authorize(ctx context.Context, id *Identity, kind, action string) error
}

// AuthzError describes a denial.
type AuthzError struct {
	Principal string
	Kind      string
	Action    string
	Reason    string
}

func (e *AuthzError) Error() string {
	return fmt.Sprintf("auth: %s may not %s %s: %s", e.Principal, e.Action, e.Kind, e.Reason)
}

// Is matches ErrForbidden.
func (e *AuthzError) Is(target error) bool { return target == ErrForbidden }

// AllowAll permits every request.
type AllowAll struct{}

// Authorize implements Authorizer.
func (AllowAll) Authorize(context.Context, *Identity, string, string) error { return nil }

// RoleAuthorizer maps roles to the agent kinds they may run. Kind entries
// are path.Match patterns, so "*" grants every kind.
type RoleAuthorizer struct {
	roles map[string][]string

	// DefaultRole applies to identities without roles.
	DefaultRole string
}

// NewRoleAuthorizer creates a RoleAuthorizer. The map is copied.
func NewRoleAuthorizer(roles map[string][]string) *RoleAuthorizer {
	cp := make(map[string][]string, len(roles))
	for role, kinds := range roles {
		cp[role] = slices.Clone(kinds)
	}
	return &RoleAuthorizer{roles: cp}
}

// Authorize implements Authorizer.
func (a *RoleAuthorizer) Authorize(_ context.Context, id *Identity, kind, action string) error {
	if id.IsAnonymous() {
		return &AuthzError{Kind: kind, Action: action, Reason: "anonymous caller"}
	}
	roles := id.Roles
	if len(roles) == 0 && a.DefaultRole != "" {
		roles = []string{a.DefaultRole}
	}
	for _, role := range roles {
		for _, pattern := range a.roles[role] {
			if ok, _ := path.Match(pattern, kind); ok {
				return nil
			}
		}
	}
	return &AuthzError{Principal: id.Principal, Kind: kind, Action: action, Reason: "no role grants this kind"}
}

var (
	_ Authorizer = AllowAll{}
	_ Authorizer = (*RoleAuthorizer)(nil)
)
