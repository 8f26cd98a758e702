package server

import (
	"net/http"
	"strconv"
	"strings"
)

const openAPIVersion = "3.0.3"

// OpenAPIDocument describes routes as an OpenAPI 3 document. Paths are
// prefixed with basePath.
func OpenAPIDocument(routes []Route, basePath, version string) map[string]any {
	paths := map[string]map[string]any{}
	for _, rt := range routes {
		path := basePath + rt.Path
		if paths[path] == nil {
			paths[path] = map[string]any{}
		}
		paths[path][strings.ToLower(rt.Method)] = operation(rt)
	}

	return map[string]any{
		"openapi": openAPIVersion,
		"info": map[string]any{
			"title":   "openlab presence API",
			"version": version,
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"oidc":     map[string]any{"type": "http", "scheme": "bearer", "description": "Access token of the configured identity provider"},
				"panicKey": map[string]any{"type": "http", "scheme": "bearer", "description": "Static panic key"},
			},
		},
	}
}

func operation(rt Route) map[string]any {
	op := map[string]any{
		"summary": rt.Summary,
		"tags":    []string{rt.Tag},
	}

	switch rt.Auth {
	case AuthOIDC:
		op["security"] = []map[string][]string{{"oidc": {}}}
	case AuthPanicKey:
		op["security"] = []map[string][]string{{"panicKey": {}}}
	}

	if rt.Request != nil {
		op["requestBody"] = map[string]any{
			"required": true,
			"content":  map[string]any{"application/json": map[string]any{"schema": rt.Request}},
		}
	}

	responses := map[string]any{}
	for code, resp := range rt.Responses {
		r := map[string]any{"description": resp.Description}
		if resp.Schema != nil {
			r["content"] = map[string]any{"application/json": map[string]any{"schema": resp.Schema}}
		}
		responses[strconv.Itoa(code)] = r
	}
	op["responses"] = responses
	return op
}

func handleOpenAPI(doc map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, doc)
	}
}
