package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/config"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/secret"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/telemetry"
)

const (
	tracerName = "openlabapi/auth"

	// maxUserInfoBytes caps the user-info response body.
	maxUserInfoBytes = 1 << 20

	usernameClaim = "preferred_username"

	defaultTimeout = 10 * time.Second
)

// Resolver turns bearer credentials into identities by asking the external
// identity provider's user-info endpoint. Every call goes to the provider;
// nothing is cached, so a revoked token or removed group takes effect on the
// next request.
type Resolver struct {
	rp          rp.RelyingParty
	client      *http.Client
	userinfoURL string

	groupsClaim     string
	groupsClaimPath string
	authorized      []string
	expression      string
}

type resolverOptions struct {
	client *http.Client
}

// ResolverOption configures a Resolver.
type ResolverOption func(*resolverOptions)

// WithHTTPClient replaces the default client used for discovery and
// user-info calls.
func WithHTTPClient(client *http.Client) ResolverOption {
	return func(o *resolverOptions) {
		o.client = client
	}
}

// NewHTTPClient returns a client bounded by timeout that never follows
// redirects.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// NewResolver performs OIDC discovery against cfg.URL and returns a Resolver
// bound to the advertised user-info endpoint. Discovery happens once; a
// failure is returned as *DiscoveryError.
func NewResolver(ctx context.Context, cfg config.OIDCConfig, opts ...ResolverOption) (*Resolver, error) {
	o := resolverOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	client := o.client
	if client == nil {
		client = NewHTTPClient(cfg.Timeout)
	}

	relyingParty, err := rp.NewRelyingPartyOIDC(ctx, cfg.URL, cfg.ClientID, cfg.ClientSecret, "",
		[]string{oidc.ScopeOpenID, oidc.ScopeProfile}, rp.WithHTTPClient(client))
	if err != nil {
		return nil, &DiscoveryError{Issuer: cfg.URL, Err: err}
	}

	endpoint := relyingParty.UserinfoEndpoint()
	if endpoint == "" {
		return nil, &DiscoveryError{Issuer: cfg.URL, Err: errors.New("provider does not advertise a userinfo_endpoint")}
	}

	groupsClaim := cfg.GroupsClaim
	if groupsClaim == "" {
		groupsClaim = "groups"
	}

	return &Resolver{
		rp:              relyingParty,
		client:          relyingParty.HttpClient(),
		userinfoURL:     endpoint,
		groupsClaim:     groupsClaim,
		groupsClaimPath: cfg.GroupsClaimPath,
		authorized:      slices.Clone(cfg.AuthorizedGroups),
		expression:      cfg.AuthorizationExpression,
	}, nil
}

// Issuer returns the discovered issuer.
func (r *Resolver) Issuer() string {
	return r.rp.Issuer()
}

// ResolveIdentity returns the preferred_username of the credential's owner.
// The caller owns the returned value and should wipe it when done.
func (r *Resolver) ResolveIdentity(ctx context.Context, credential *secret.Value) (*secret.Value, error) {
	p, err := r.userInfo(ctx, credential)
	if err != nil {
		return nil, err
	}
	return p.Username, nil
}

// Authorize reports whether the credential's owner may use the API. It
// performs its own user-info lookup.
func (r *Resolver) Authorize(ctx context.Context, credential *secret.Value) error {
	p, err := r.userInfo(ctx, credential)
	if err != nil {
		return err
	}
	defer p.Wipe()
	return r.check(p)
}

// Authenticate resolves and authorizes the credential with a single
// user-info call. On success the caller owns the returned principal.
func (r *Resolver) Authenticate(ctx context.Context, credential *secret.Value) (*Principal, error) {
	p, err := r.userInfo(ctx, credential)
	if err != nil {
		return nil, err
	}
	if err := r.check(p); err != nil {
		p.Wipe()
		return nil, err
	}
	return p, nil
}

// check applies the authorization rule: membership in any authorized group
// (exact, case-sensitive) and, when configured, the bexpr expression.
func (r *Resolver) check(p *Principal) error {
	member := false
	for _, g := range p.Groups {
		if slices.Contains(r.authorized, g) {
			member = true
			break
		}
	}
	if !member {
		return authError(ErrForbidden, "user is in none of the authorized groups")
	}
	if r.expression != "" && !EvaluateBexpr(r.expression, identityDocument(p.Username.String(), p.Groups)) {
		return authError(ErrForbidden, "authorization expression did not match")
	}
	return nil
}

func (r *Resolver) userInfo(ctx context.Context, credential *secret.Value) (*Principal, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "auth.UserInfo",
		attribute.String(telemetry.AttrIdPEndpoint, r.userinfoURL),
	)
	defer span.End()

	p, err := r.fetchUserInfo(ctx, credential)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int(telemetry.AttrPrincipalGroups, len(p.Groups)))
	return p, nil
}

func (r *Resolver) fetchUserInfo(ctx context.Context, credential *secret.Value) (*Principal, error) {
	if credential.IsZero() {
		return nil, &AuthError{Kind: ErrInvalidCredential, Err: ErrNoCredential}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.userinfoURL, nil)
	if err != nil {
		return nil, authError(ErrUpstreamUnavailable, "build user-info request: %w", err)
	}
	credential.Use(func(b []byte) {
		req.Header.Set("Authorization", "Bearer "+string(b))
	})
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	req.Header.Del("Authorization")
	if err != nil {
		return nil, authError(ErrUpstreamUnavailable, "user-info request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, authError(ErrInvalidCredential, "user-info endpoint answered %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, authError(ErrUpstreamUnavailable, "user-info endpoint answered %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return nil, authError(ErrUpstreamUnavailable, "read user-info response: %w", err)
	}
	defer clear(body)

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, authError(ErrUpstreamUnavailable, "decode user-info response: %w", err)
	}

	username, err := ExtractClaimString(claims, usernameClaim)
	if err != nil {
		return nil, &AuthError{Kind: ErrMissingClaim, Err: err}
	}
	groups, err := ExtractGroups(claims, r.groupsClaim, r.groupsClaimPath)
	if err != nil {
		return nil, authError(ErrMissingClaim, "%s: %w", r.groupsClaim, err)
	}

	return &Principal{
		Username: secret.New(username),
		Groups:   groups,
	}, nil
}

// String identifies the resolver in logs.
func (r *Resolver) String() string {
	return fmt.Sprintf("oidc(%s)", r.rp.Issuer())
}
