package auth

import (
	"errors"
	"fmt"
)

// Per-request failure kinds. Callers treat every one of them as a denial;
// the detail is for logs only.
var (
	// ErrInvalidCredential means the identity provider rejected the token.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrMissingClaim means the user-info response lacked a required claim.
	ErrMissingClaim = errors.New("missing claim")
	// ErrUpstreamUnavailable means the identity provider could not be reached,
	// timed out, or answered with something unusable.
	ErrUpstreamUnavailable = errors.New("identity provider unavailable")
	// ErrForbidden means the identity is valid but not authorized.
	ErrForbidden = errors.New("forbidden")
	// ErrNoCredential means the request carried no bearer token.
	ErrNoCredential = errors.New("no bearer credential")
)

// AuthError pairs a failure kind with its underlying cause.
// errors.Is matches both the kind and the cause.
type AuthError struct {
	Kind error
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func authError(kind error, format string, args ...any) *AuthError {
	return &AuthError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// DiscoveryError is returned when the identity provider metadata cannot be
// fetched at startup. It is fatal; the server must not start without a
// working identity backend.
type DiscoveryError struct {
	Issuer string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("oidc discovery for %s failed: %v", e.Issuer, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}
