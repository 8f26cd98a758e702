package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/auth"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/presence"
)

// HealthMessage is returned by GET /health.
const HealthMessage = "Everything is working fine! :33"

// arrivalRequest is the body of PUT /arrival. Nickname is accepted for
// compatibility with older clients and ignored: the identity always comes
// from the bearer credential.
type arrivalRequest struct {
	Nickname    *string              `json:"nickname,omitempty"`
	ArrivalType presence.ArrivalType `json:"arrival_type"`
	When        time.Time            `json:"when"`
}

type arrivalsResponse struct {
	Users map[string]presence.Arrival `json:"users"`
}

type presenceResponse struct {
	Users map[string]time.Time `json:"users"`
}

func handleHealth(*presence.State) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, messageResponse{Message: HealthMessage})
	}
}

func handlePutArrival(state *presence.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		var req arrivalRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&req); err != nil {
			badRequest(w, r, fmt.Errorf("decode arrival: %w", err))
			return
		}
		if req.ArrivalType == "" {
			badRequest(w, r, ErrArrivalTypeRequired)
			return
		}
		if req.When.IsZero() {
			badRequest(w, r, ErrWhenRequired)
			return
		}

		if _, err := state.AnnounceArrival(r.Context(), principal.Username, req.ArrivalType, req.When); err != nil {
			abandoned(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetArrivals(state *presence.State) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, arrivalsResponse{Users: state.ArrivalsByUser()})
	}
}

func handleDeleteArrival(state *presence.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := state.WithdrawArrival(r.Context(), principal.Username); err != nil {
			abandoned(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handlePutPresence(state *presence.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if _, err := state.AnnouncePresence(r.Context(), principal.Username); err != nil {
			abandoned(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetPresence(state *presence.State) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, presenceResponse{Users: state.Present()})
	}
}

func handleDeletePresence(state *presence.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := state.WithdrawPresence(r.Context(), principal.Username); err != nil {
			abandoned(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handlePanic(state *presence.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := state.Panic(r.Context()); err != nil {
			abandoned(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
