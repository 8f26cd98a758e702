package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	apimiddleware "github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/middleware"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/presence"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/telemetry"
)

// RouterOptions controls the construction of the HTTP router.
type RouterOptions struct {
	State       *presence.State
	BasePath    string
	CORSOptions *cors.Options
	// Version is reported in the OpenAPI document.
	Version       string
	ServerMetrics *telemetry.ServerMetrics
	AuthMetrics   *telemetry.AuthMetrics
	Middleware    []func(http.Handler) http.Handler
}

// DefaultCORSOptions returns the CORS policy for the given origins. With no
// origins, any origin may read the API without credentials.
func DefaultCORSOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy and
// every route of Routes() mounted under opts.BasePath.
func NewRouter(opts RouterOptions) (chi.Router, error) {
	if opts.State == nil {
		return nil, fmt.Errorf("router requires presence state")
	}
	basePath := strings.TrimSuffix(opts.BasePath, "/")

	r := chi.NewRouter()

	// Baseline middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apimiddleware.Logger)
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions(nil)
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	if opts.ServerMetrics != nil {
		r.Use(apimiddleware.Metrics(opts.ServerMetrics))
	}
	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	var authnOpts []apimiddleware.AuthnOption
	if opts.AuthMetrics != nil {
		authnOpts = append(authnOpts, apimiddleware.WithAuthMetrics(opts.AuthMetrics))
	}
	oidcGate := apimiddleware.Authn(opts.State.Resolver, authnOpts...)
	panicGate := apimiddleware.PanicAuth(opts.State)

	routes := Routes()
	handlers := make([]http.Handler, len(routes))
	for i, rt := range routes {
		h := http.Handler(rt.handler(opts.State))
		if rt.Request != nil {
			v, err := compileSchema(strings.ToLower(rt.Method)+strings.ReplaceAll(rt.Path, "/", "_"), rt.Request)
			if err != nil {
				return nil, err
			}
			h = v.middleware(h)
		}
		handlers[i] = h
	}

	mount := func(api chi.Router) {
		for i, rt := range routes {
			h := handlers[i]
			switch rt.Auth {
			case AuthOIDC:
				h = oidcGate(h)
			case AuthPanicKey:
				h = panicGate(h)
			}
			api.Method(rt.Method, rt.Path, h)
		}
		api.Get("/openapi.json", handleOpenAPI(OpenAPIDocument(routes, basePath, opts.Version)))
	}

	if basePath == "" {
		mount(r)
	} else {
		r.Route(basePath, mount)
	}

	slog.Debug("router ready", "routes", len(routes), "base_path", basePath)
	return r, nil
}
