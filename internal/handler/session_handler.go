package handler

import (
	"encoding/json"
	"net/http"

	"shop-admin/internal/domain"
	"shop-admin/internal/guard"
	"shop-admin/internal/session"
)

// SessionResponse is the session as seen by the console. The token is never exposed.
type SessionResponse struct {
	State     string          `json:"state"`
	IsLoading bool            `json:"isLoading"`
	Error     string          `json:"error,omitempty"`
	Location  string          `json:"location"`
	Profile   *domain.Profile `json:"profile,omitempty"`
}

// Session reports the current session and location, for polling while loading
func Session(machine *session.Machine, nav *guard.Navigator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := machine.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		json.NewEncoder(w).Encode(SessionResponse{
			State:     snap.State().String(),
			IsLoading: snap.IsLoading,
			Error:     snap.Error,
			Location:  nav.Current(),
			Profile:   snap.Profile,
		})
	}
}
