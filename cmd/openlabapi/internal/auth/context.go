package auth

import (
	"context"

	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/secret"
)

// Principal is the identity resolved for one request.
type Principal struct {
	// Username is the provider's preferred_username claim. It keys both
	// stores and is wiped when the request finishes.
	Username *secret.Value
	// Groups lists the provider groups the user belongs to.
	Groups []string
}

// Wipe scrubs the principal's username.
func (p *Principal) Wipe() {
	if p != nil {
		p.Username.Wipe()
	}
}

type principalContextKey struct{}

// SetPrincipal stores the authenticated principal on the context for downstream consumers.
func SetPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext retrieves the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(*Principal)
	return principal, ok && principal != nil
}

// Authenticator resolves a bearer credential into an authorized principal.
// *Resolver implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, credential *secret.Value) (*Principal, error)
}

var _ Authenticator = (*Resolver)(nil)
