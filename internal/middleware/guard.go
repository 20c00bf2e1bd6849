package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"shop-admin/internal/domain"
	"shop-admin/internal/guard"
	"shop-admin/internal/observability"
	"shop-admin/internal/session"
)

type contextKey string

const SnapshotKey contextKey = "session_snapshot"

// Guard applies the routing rule to each console request. A loading session gets
// the loading screen, a disallowed location a 303 to the guard's target, and
// everything else reaches next with the session snapshot in its context.
func Guard(machine *session.Machine, nav *guard.Navigator, loading http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := machine.Snapshot()
			location := r.URL.Path

			d := guard.Evaluate(snap, location)
			switch d.Action {
			case guard.ActionShowLoading:
				w.Header().Set("Cache-Control", "no-store")
				loading.ServeHTTP(w, r)
				return
			case guard.ActionRedirect:
				observability.FromContext(r.Context()).Debug("guard redirect",
					slog.String("from", location),
					slog.String("to", d.Target))
				nav.Navigate(d.Target)
				http.Redirect(w, r, d.Target, http.StatusSeeOther)
				return
			}

			if r.Method == http.MethodGet {
				nav.Navigate(location)
			}

			ctx := WithSnapshot(r.Context(), snap)
			if snap.Profile != nil {
				ctx = observability.WithUsername(ctx, snap.Profile.Username)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSnapshot returns the session snapshot the guard admitted the request with
func GetSnapshot(ctx context.Context) (domain.Snapshot, bool) {
	snap, ok := ctx.Value(SnapshotKey).(domain.Snapshot)
	return snap, ok
}

func WithSnapshot(ctx context.Context, snap domain.Snapshot) context.Context {
	return context.WithValue(ctx, SnapshotKey, snap)
}
