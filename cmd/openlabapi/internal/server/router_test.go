package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/auth"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/auth/authtest"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/config"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/presence"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/secret"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/telemetry"
)

const (
	panicKey    = "correct horse battery staple"
	tokenGhost  = "tok-ghost"
	tokenAlice  = "tok-alice"
	tokenGuest  = "tok-guest"
	contentJSON = "application/json"
)

type testEnv struct {
	idp    *authtest.Provider
	state  *presence.State
	server *httptest.Server
}

func newTestEnv(t *testing.T, basePath string, opts ...presence.Option) *testEnv {
	t.Helper()

	idp := authtest.NewProvider(t)
	idp.AddUser(tokenGhost, authtest.User{PreferredUsername: "ghost", Groups: []string{"members"}})
	idp.AddUser(tokenAlice, authtest.User{PreferredUsername: "alice", Groups: []string{"vorstand", "members"}})
	idp.AddUser(tokenGuest, authtest.User{PreferredUsername: "guest", Groups: []string{"guests"}})

	resolver, err := auth.NewResolver(context.Background(), config.OIDCConfig{
		URL:              idp.URL,
		ClientID:         "openlab-app",
		AuthorizedGroups: []string{"members"},
		GroupsClaim:      "groups",
		Timeout:          200 * time.Millisecond,
	})
	require.NoError(t, err)

	state, err := presence.New(resolver, secret.New(panicKey), time.Hour, opts...)
	require.NoError(t, err)

	serverMetrics, err := telemetry.NewServerMetrics()
	require.NoError(t, err)
	authMetrics, err := telemetry.NewAuthMetrics()
	require.NoError(t, err)

	router, err := NewRouter(RouterOptions{
		State:         state,
		BasePath:      basePath,
		Version:       "test",
		ServerMetrics: serverMetrics,
		AuthMetrics:   authMetrics,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testEnv{idp: idp, state: state, server: srv}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", contentJSON)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func arrivalBody(kind string, when time.Time) string {
	return `{"arrival_type":"` + kind + `","when":"` + when.Format(time.RFC3339) + `"}`
}

func decodeArrivals(t *testing.T, body []byte) map[string]presence.Arrival {
	t.Helper()
	var resp arrivalsResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotNil(t, resp.Users)
	return resp.Users
}

func decodePresence(t *testing.T, body []byte) map[string]time.Time {
	t.Helper()
	var resp presenceResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotNil(t, resp.Users)
	return resp.Users
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")

	status, body := env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"message":"Everything is working fine! :33"}`, string(body))
	assert.Zero(t, env.idp.UserInfoCalls())
}

func TestArrival_EditedAtIsServerTime(t *testing.T) {
	env := newTestEnv(t, "")

	when := time.Date(2020, 2, 29, 19, 0, 0, 0, time.UTC)
	start := time.Now().Add(-time.Second)
	status, body := env.do(t, http.MethodPut, "/arrival", tokenGhost, arrivalBody("Fokus", when))
	require.Equal(t, http.StatusNoContent, status)
	assert.Empty(t, body)

	status, body = env.do(t, http.MethodGet, "/arrival", tokenGhost, "")
	require.Equal(t, http.StatusOK, status)
	users := decodeArrivals(t, body)
	require.Contains(t, users, "ghost")
	assert.Equal(t, presence.Fokus, users["ghost"].ArrivalType)
	assert.True(t, users["ghost"].When.Equal(when))
	assert.True(t, users["ghost"].EditedAt.After(start))
	assert.False(t, users["ghost"].EditedAt.Equal(when))
}

func TestArrival_SecondPutWins(t *testing.T) {
	env := newTestEnv(t, "")
	when := time.Now().Add(time.Hour)

	status, _ := env.do(t, http.MethodPut, "/arrival", tokenGhost, arrivalBody("Fokus", when))
	require.Equal(t, http.StatusNoContent, status)
	status, _ = env.do(t, http.MethodPut, "/arrival", tokenGhost, arrivalBody("Gammeln", when))
	require.Equal(t, http.StatusNoContent, status)

	_, body := env.do(t, http.MethodGet, "/arrival", tokenGhost, "")
	users := decodeArrivals(t, body)
	require.Len(t, users, 1)
	assert.Equal(t, presence.Gammeln, users["ghost"].ArrivalType)
}

func TestArrival_NicknameIsIgnored(t *testing.T) {
	env := newTestEnv(t, "")

	body := `{"nickname":"alice","arrival_type":"Connecten","when":"2026-10-17T18:00:00Z"}`
	status, _ := env.do(t, http.MethodPut, "/arrival", tokenGhost, body)
	require.Equal(t, http.StatusNoContent, status)

	_, out := env.do(t, http.MethodGet, "/arrival", tokenGhost, "")
	users := decodeArrivals(t, out)
	assert.Contains(t, users, "ghost")
	assert.NotContains(t, users, "alice")
}

func TestArrival_MalformedBody(t *testing.T) {
	env := newTestEnv(t, "")

	bodies := []string{
		`{not json`,
		`{"arrival_type":"Tanzen","when":"2026-10-17T18:00:00Z"}`,
		`{"when":"2026-10-17T18:00:00Z"}`,
		`{"arrival_type":"Fokus"}`,
		`{"arrival_type":"Fokus","when":"tomorrow"}`,
	}
	for _, b := range bodies {
		status, out := env.do(t, http.MethodPut, "/arrival", tokenGhost, b)
		assert.Equal(t, http.StatusBadRequest, status, b)
		assert.JSONEq(t, `{"message":"malformed request body"}`, string(out))
	}

	_, out := env.do(t, http.MethodGet, "/arrival", tokenGhost, "")
	assert.Empty(t, decodeArrivals(t, out))
}

func TestArrival_Delete(t *testing.T) {
	env := newTestEnv(t, "")
	when := time.Now()

	env.do(t, http.MethodPut, "/arrival", tokenGhost, arrivalBody("Fokus", when))
	env.do(t, http.MethodPut, "/arrival", tokenAlice, arrivalBody("Connecten", when))

	status, _ := env.do(t, http.MethodDelete, "/arrival", tokenGhost, "")
	require.Equal(t, http.StatusNoContent, status)

	_, out := env.do(t, http.MethodGet, "/arrival", tokenAlice, "")
	users := decodeArrivals(t, out)
	assert.NotContains(t, users, "ghost")
	assert.Contains(t, users, "alice")
}

func TestPresence_Lifecycle(t *testing.T) {
	env := newTestEnv(t, "")

	start := time.Now().Add(-time.Second)
	status, _ := env.do(t, http.MethodPut, "/presence", tokenGhost, "")
	require.Equal(t, http.StatusNoContent, status)

	_, out := env.do(t, http.MethodGet, "/presence", tokenAlice, "")
	users := decodePresence(t, out)
	require.Contains(t, users, "ghost")
	assert.True(t, users["ghost"].After(start))

	status, _ = env.do(t, http.MethodDelete, "/presence", tokenGhost, "")
	require.Equal(t, http.StatusNoContent, status)

	_, out = env.do(t, http.MethodGet, "/presence", tokenAlice, "")
	assert.Empty(t, decodePresence(t, out))
}

func TestListings_AfterEntriesExpire(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 10, 17, 18, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	env := newTestEnv(t, "", presence.WithClock(clock))

	status, _ := env.do(t, http.MethodPut, "/presence", tokenAlice, "")
	require.Equal(t, http.StatusNoContent, status)
	status, _ = env.do(t, http.MethodPut, "/arrival", tokenAlice, arrivalBody("Fokus", clock()))
	require.Equal(t, http.StatusNoContent, status)
	require.Contains(t, env.state.Present(), "alice")
	require.Contains(t, env.state.ArrivalsByUser(), "alice")

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()
	status, _ = env.do(t, http.MethodPut, "/presence", tokenGhost, "")
	require.Equal(t, http.StatusNoContent, status)

	status, body := env.do(t, http.MethodGet, "/presence", tokenGhost, "")
	require.Equal(t, http.StatusOK, status)
	users := decodePresence(t, body)
	assert.Len(t, users, 1)
	assert.Contains(t, users, "ghost")

	status, body = env.do(t, http.MethodGet, "/arrival", tokenGhost, "")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decodeArrivals(t, body))
}

func TestOIDCRoutes_DenyWith204(t *testing.T) {
	env := newTestEnv(t, "")
	require.NoError(t, env.state.Presence.Insert(context.Background(), secret.New("ghost"), time.Now()))

	tokens := map[string]string{
		"missing":        "",
		"unknown":        "tok-unknown",
		"expired":        authtest.TokenExpired,
		"not authorized": tokenGuest,
		"provider error": authtest.TokenFlaky,
	}
	routes := []struct{ method, path, body string }{
		{http.MethodGet, "/arrival", ""},
		{http.MethodPut, "/arrival", arrivalBody("Fokus", time.Now())},
		{http.MethodDelete, "/arrival", ""},
		{http.MethodGet, "/presence", ""},
		{http.MethodPut, "/presence", ""},
		{http.MethodDelete, "/presence", ""},
	}

	for name, token := range tokens {
		for _, rt := range routes {
			status, body := env.do(t, rt.method, rt.path, token, rt.body)
			assert.Equal(t, http.StatusNoContent, status, "%s %s with %s token", rt.method, rt.path, name)
			assert.Empty(t, body)
		}
	}

	// nothing was written or removed
	assert.Equal(t, []string{"ghost"}, mapKeys(env.state.Present()))
	assert.Empty(t, env.state.ArrivalsByUser())
}

func TestArrival_IdPTimeoutIs204(t *testing.T) {
	env := newTestEnv(t, "")
	env.do(t, http.MethodPut, "/arrival", tokenGhost, arrivalBody("Fokus", time.Now()))

	start := time.Now()
	status, body := env.do(t, http.MethodGet, "/arrival", authtest.TokenSlow, "")
	assert.Equal(t, http.StatusNoContent, status)
	assert.Empty(t, body)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPanic(t *testing.T) {
	env := newTestEnv(t, "")
	when := time.Now()

	env.do(t, http.MethodPut, "/arrival", tokenGhost, arrivalBody("Fokus", when))
	env.do(t, http.MethodPut, "/presence", tokenGhost, "")
	env.do(t, http.MethodPut, "/presence", tokenAlice, "")

	t.Run("wrong key", func(t *testing.T) {
		status, _ := env.do(t, http.MethodPost, "/panic", "guess", "")
		assert.Equal(t, http.StatusUnauthorized, status)

		status, _ = env.do(t, http.MethodPost, "/panic", "", "")
		assert.Equal(t, http.StatusUnauthorized, status)

		// an OIDC token is not the panic key
		status, _ = env.do(t, http.MethodPost, "/panic", tokenGhost, "")
		assert.Equal(t, http.StatusUnauthorized, status)

		_, out := env.do(t, http.MethodGet, "/arrival", tokenGhost, "")
		assert.Len(t, decodeArrivals(t, out), 1)
		_, out = env.do(t, http.MethodGet, "/presence", tokenGhost, "")
		assert.Len(t, decodePresence(t, out), 2)
	})

	t.Run("correct key", func(t *testing.T) {
		status, _ := env.do(t, http.MethodPost, "/panic", panicKey, "")
		require.Equal(t, http.StatusOK, status)

		_, out := env.do(t, http.MethodGet, "/arrival", tokenGhost, "")
		assert.Empty(t, decodeArrivals(t, out))
		_, out = env.do(t, http.MethodGet, "/presence", tokenGhost, "")
		assert.Empty(t, decodePresence(t, out))
	})
}

func TestPanic_DoesNotConsultIdP(t *testing.T) {
	env := newTestEnv(t, "")
	before := env.idp.UserInfoCalls()

	status, _ := env.do(t, http.MethodPost, "/panic", panicKey, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, before, env.idp.UserInfoCalls())
}

func TestConcurrentWritesFromDifferentUsers(t *testing.T) {
	env := newTestEnv(t, "")

	var wg sync.WaitGroup
	for _, token := range []string{tokenGhost, tokenAlice} {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				req, _ := http.NewRequest(http.MethodPut, env.server.URL+"/presence", nil)
				req.Header.Set("Authorization", "Bearer "+token)
				resp, err := env.server.Client().Do(req)
				if err != nil {
					t.Errorf("put presence: %v", err)
					return
				}
				resp.Body.Close()
			}
		}(token)
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"ghost", "alice"}, mapKeys(env.state.Present()))
}

func TestBasePath(t *testing.T) {
	env := newTestEnv(t, "/api/v1/")

	status, _ := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestOpenAPIDocument(t *testing.T) {
	env := newTestEnv(t, "")

	status, body := env.do(t, http.MethodGet, "/openapi.json", "", "")
	require.Equal(t, http.StatusOK, status)

	var doc struct {
		OpenAPI string                               `json:"openapi"`
		Paths   map[string]map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, openAPIVersion, doc.OpenAPI)

	for _, rt := range Routes() {
		ops, ok := doc.Paths[rt.Path]
		require.True(t, ok, rt.Path)
		op, ok := ops[strings.ToLower(rt.Method)]
		require.True(t, ok, "%s %s", rt.Method, rt.Path)
		assert.Equal(t, rt.Summary, op["summary"])
		if rt.Auth == AuthNone {
			assert.NotContains(t, op, "security")
		} else {
			assert.Contains(t, op, "security")
		}
	}
	assert.Contains(t, doc.Paths["/arrival"]["put"], "requestBody")
}

func TestNewRouter_RequiresState(t *testing.T) {
	_, err := NewRouter(RouterOptions{})
	assert.Error(t, err)
}

func mapKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
