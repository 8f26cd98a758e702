package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/xenitab/go-oidc-middleware/oidctoken"
	"github.com/xenitab/go-oidc-middleware/options"

	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/auth"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/secret"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/telemetry"
)

// BearerToken extracts the bearer credential from the Authorization header.
func BearerToken(r *http.Request) (*secret.Value, error) {
	token, err := oidctoken.GetTokenString(r.Header.Get, [][]options.TokenStringOption{{}})
	if err != nil {
		return nil, errors.Join(auth.ErrNoCredential, err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, auth.ErrNoCredential
	}
	return secret.New(token), nil
}

type authnOptions struct {
	metrics *telemetry.AuthMetrics
}

// AuthnOption configures Authn.
type AuthnOption func(*authnOptions)

// WithAuthMetrics records every authentication attempt on m.
func WithAuthMetrics(m *telemetry.AuthMetrics) AuthnOption {
	return func(o *authnOptions) {
		o.metrics = m
	}
}

// Authn resolves the bearer credential into an authorized principal and puts
// it on the request context. Any failure ends the request with an empty 204,
// the same answer an authorized write gets, so callers cannot probe whether a
// token is valid. The reason is logged server-side only.
//
// The principal's username is wiped once the downstream handler returns.
func Authn(authenticator auth.Authenticator, opts ...AuthnOption) func(http.Handler) http.Handler {
	o := authnOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()

			principal, err := authenticate(r, authenticator)
			if o.metrics != nil {
				o.metrics.RecordAuth(ctx, float64(time.Since(start).Milliseconds()), FailureReason(err))
			}
			if err != nil {
				slog.InfoContext(ctx, "request denied",
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(ctx),
					"reason", FailureReason(err),
					"error", err,
				)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			defer principal.Wipe()

			next.ServeHTTP(w, r.WithContext(auth.SetPrincipal(ctx, principal)))
		})
	}
}

func authenticate(r *http.Request, authenticator auth.Authenticator) (*auth.Principal, error) {
	credential, err := BearerToken(r)
	if err != nil {
		return nil, err
	}
	defer credential.Wipe()
	return authenticator.Authenticate(r.Context(), credential)
}

// FailureReason classifies an authentication error for logs and metrics.
// It returns "" for a nil error.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, auth.ErrNoCredential):
		return "no_credential"
	case errors.Is(err, auth.ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, auth.ErrMissingClaim):
		return "missing_claim"
	case errors.Is(err, auth.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
