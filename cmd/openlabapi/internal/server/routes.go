package server

import (
	"net/http"

	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/presence"
)

// AuthKind selects the gate a route sits behind.
type AuthKind int

const (
	// AuthNone is a public route.
	AuthNone AuthKind = iota
	// AuthOIDC requires a bearer token accepted by the identity provider.
	AuthOIDC
	// AuthPanicKey requires the static panic key as bearer.
	AuthPanicKey
)

// Schema is a JSON Schema fragment used in the OpenAPI document.
type Schema map[string]any

// Route is one entry of the API surface.
type Route struct {
	Method  string
	Path    string
	Auth    AuthKind
	Tag     string
	Summary string
	// Request is the body schema, nil when the route takes no body.
	Request Schema
	// Responses maps status codes to a description and optional schema.
	Responses map[int]Response

	handler func(*presence.State) http.HandlerFunc
}

// Response documents one status code of a Route.
type Response struct {
	Description string
	Schema      Schema
}

var (
	timestampSchema = Schema{"type": "string", "format": "date-time"}

	arrivalTypeSchema = Schema{
		"type": "string",
		"enum": []string{string(presence.Connecten), string(presence.Fokus), string(presence.Gammeln)},
	}

	arrivalSchema = Schema{
		"type":     "object",
		"required": []string{"arrival_type", "when", "edited_at"},
		"properties": map[string]any{
			"arrival_type": arrivalTypeSchema,
			"when":         timestampSchema,
			"edited_at":    timestampSchema,
		},
	}

	arrivalRequestSchema = Schema{
		"type":     "object",
		"required": []string{"arrival_type", "when"},
		"properties": map[string]any{
			"nickname":     Schema{"type": "string", "description": "Ignored; the identity is taken from the bearer token."},
			"arrival_type": arrivalTypeSchema,
			"when":         timestampSchema,
		},
	}

	messageSchema = Schema{
		"type":       "object",
		"required":   []string{"message"},
		"properties": map[string]any{"message": Schema{"type": "string"}},
	}
)

func usersSchema(value Schema) Schema {
	return Schema{
		"type":     "object",
		"required": []string{"users"},
		"properties": map[string]any{
			"users": Schema{"type": "object", "additionalProperties": value},
		},
	}
}

var (
	writeResponses = map[int]Response{
		http.StatusNoContent:           {Description: "Accepted, or credential not accepted"},
		http.StatusInternalServerError: {Description: "Request ended before the write was applied"},
	}
	deniedResponse = Response{Description: "Credential not accepted"}
)

// Routes returns the API surface. The router and the OpenAPI document are both
// built from it.
func Routes() []Route {
	return []Route{
		{
			Method: http.MethodGet, Path: "/health", Auth: AuthNone, Tag: "Health",
			Summary:   "Health route",
			Responses: map[int]Response{http.StatusOK: {Description: "Service is up", Schema: messageSchema}},
			handler:   handleHealth,
		},
		{
			Method: http.MethodPut, Path: "/arrival", Auth: AuthOIDC, Tag: "Arrival",
			Summary:   "Announce a new arrival",
			Request:   arrivalRequestSchema,
			Responses: withBadRequest(writeResponses),
			handler:   handlePutArrival,
		},
		{
			Method: http.MethodGet, Path: "/arrival", Auth: AuthOIDC, Tag: "Arrival",
			Summary: "Get all announced arrivals",
			Responses: map[int]Response{
				http.StatusOK:        {Description: "Announced arrivals by user", Schema: usersSchema(arrivalSchema)},
				http.StatusNoContent: deniedResponse,
			},
			handler: handleGetArrivals,
		},
		{
			Method: http.MethodDelete, Path: "/arrival", Auth: AuthOIDC, Tag: "Arrival",
			Summary:   "Remove your announced arrival",
			Responses: writeResponses,
			handler:   handleDeleteArrival,
		},
		{
			Method: http.MethodPut, Path: "/presence", Auth: AuthOIDC, Tag: "Presence",
			Summary:   "Announce a new presence",
			Responses: writeResponses,
			handler:   handlePutPresence,
		},
		{
			Method: http.MethodGet, Path: "/presence", Auth: AuthOIDC, Tag: "Presence",
			Summary: "Get all current presence entries",
			Responses: map[int]Response{
				http.StatusOK:        {Description: "Present users and since when", Schema: usersSchema(timestampSchema)},
				http.StatusNoContent: deniedResponse,
			},
			handler: handleGetPresence,
		},
		{
			Method: http.MethodDelete, Path: "/presence", Auth: AuthOIDC, Tag: "Presence",
			Summary:   "Delete a presence entry",
			Responses: writeResponses,
			handler:   handleDeletePresence,
		},
		{
			Method: http.MethodPost, Path: "/panic", Auth: AuthPanicKey, Tag: "Panic",
			Summary: "Clear any and all data from memory",
			Responses: map[int]Response{
				http.StatusOK:           {Description: "Both stores are empty"},
				http.StatusUnauthorized: {Description: "Wrong or missing panic key"},
			},
			handler: handlePanic,
		},
	}
}

func withBadRequest(responses map[int]Response) map[int]Response {
	out := make(map[int]Response, len(responses)+1)
	for code, r := range responses {
		out[code] = r
	}
	out[http.StatusBadRequest] = Response{Description: "Malformed body", Schema: messageSchema}
	return out
}
