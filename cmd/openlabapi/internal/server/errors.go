package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

var (
	// ErrArrivalTypeRequired is returned when arrival_type is missing
	ErrArrivalTypeRequired = errors.New("arrival_type is required")

	// ErrWhenRequired is returned when when is missing
	ErrWhenRequired = errors.New("when is required")
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// messageResponse is the body of /health and of 400 answers.
type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// badRequest answers 400 with a generic message. err is logged, not sent.
func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	slog.InfoContext(r.Context(), "bad request",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	)
	writeJSON(w, http.StatusBadRequest, messageResponse{Message: "malformed request body"})
}

// abandoned answers an empty 500 for a store write that did not happen
// because the request context ended first.
func abandoned(w http.ResponseWriter, r *http.Request, err error) {
	slog.WarnContext(r.Context(), "store operation abandoned",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	)
	w.WriteHeader(http.StatusInternalServerError)
}
