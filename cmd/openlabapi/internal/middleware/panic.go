package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/secret"
)

// PanicKeyChecker verifies the static panic credential.
type PanicKeyChecker interface {
	CheckPanicKey(candidate *secret.Value) bool
}

// PanicAuth admits only requests whose bearer credential equals the panic
// key. Everything else gets an empty 401.
func PanicAuth(checker PanicKeyChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, err := BearerToken(r)
			if err != nil {
				deny(w, r, "no_credential")
				return
			}
			ok := checker.CheckPanicKey(credential)
			credential.Wipe()
			if !ok {
				deny(w, r, "invalid_credential")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request, reason string) {
	slog.WarnContext(r.Context(), "panic request rejected",
		"remote", r.RemoteAddr,
		"request_id", middleware.GetReqID(r.Context()),
		"reason", reason,
	)
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
}
