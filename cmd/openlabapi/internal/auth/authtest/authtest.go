// Package authtest provides an in-process OIDC identity provider for tests.
package authtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Well-known tokens understood by every Provider.
const (
	// TokenExpired is answered with 401.
	TokenExpired = "expired-token"
	// TokenFlaky is answered with 502.
	TokenFlaky = "flaky-token"
	// TokenSlow stalls until the client gives up.
	TokenSlow = "slow-token"
	// TokenRedirect is answered with a 302 to another host.
	TokenRedirect = "redirect-token"
	// TokenGarbage is answered with a body that is not JSON.
	TokenGarbage = "garbage-token"
)

// User is what the provider's user-info endpoint returns for a token.
type User struct {
	PreferredUsername string
	Groups            []string
	// Claims are merged into the response as-is.
	Claims map[string]any
}

// Provider is a fake identity provider serving discovery and user-info.
type Provider struct {
	*httptest.Server

	mu        sync.RWMutex
	users     map[string]User
	userinfo  atomic.Int64
	slowDelay time.Duration
}

// NewProvider starts a Provider and registers its shutdown with t.
func NewProvider(t testing.TB) *Provider {
	t.Helper()
	p := &Provider{
		users:     make(map[string]User),
		slowDelay: 5 * time.Second,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.discovery)
	mux.HandleFunc("/userinfo", p.userInfo)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

// AddUser makes token resolve to user.
func (p *Provider) AddUser(token string, user User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[token] = user
}

// RemoveUser revokes token.
func (p *Provider) RemoveUser(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.users, token)
}

// UserInfoCalls returns how many user-info requests were served.
func (p *Provider) UserInfoCalls() int64 {
	return p.userinfo.Load()
}

func (p *Provider) discovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                 p.URL,
		"authorization_endpoint": p.URL + "/authorize",
		"token_endpoint":         p.URL + "/token",
		"userinfo_endpoint":      p.URL + "/userinfo",
		"jwks_uri":               p.URL + "/keys",
	})
}

func (p *Provider) userInfo(w http.ResponseWriter, r *http.Request) {
	p.userinfo.Add(1)

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch token {
	case TokenExpired:
		w.WriteHeader(http.StatusUnauthorized)
		return
	case TokenFlaky:
		w.WriteHeader(http.StatusBadGateway)
		return
	case TokenSlow:
		select {
		case <-r.Context().Done():
		case <-time.After(p.slowDelay):
		}
		return
	case TokenRedirect:
		http.Redirect(w, r, "http://elsewhere.invalid/userinfo", http.StatusFound)
		return
	case TokenGarbage:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
		return
	}

	p.mu.RLock()
	user, ok := p.users[token]
	p.mu.RUnlock()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	body := map[string]any{"sub": "sub-" + token}
	for k, v := range user.Claims {
		body[k] = v
	}
	if user.PreferredUsername != "" {
		body["preferred_username"] = user.PreferredUsername
	}
	if user.Groups != nil {
		body["groups"] = user.Groups
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
