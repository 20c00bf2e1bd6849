package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"shop-admin/internal/domain"
	"shop-admin/internal/guard"
	"shop-admin/internal/middleware"
	"shop-admin/internal/observability"
	"shop-admin/internal/service"
)

// StatsProvider loads the dashboard summary
type StatsProvider interface {
	Stats(ctx context.Context) (*service.DashboardStats, error)
}

type DashboardHandler struct {
	stats StatsProvider
	pages *Pages
}

func NewDashboardHandler(stats StatsProvider, pages *Pages) *DashboardHandler {
	return &DashboardHandler{
		stats: stats,
		pages: pages,
	}
}

// Show renders the home screen
func (h *DashboardHandler) Show(w http.ResponseWriter, r *http.Request) {
	snap, ok := middleware.GetSnapshot(r.Context())
	if !ok || snap.Profile == nil {
		http.Redirect(w, r, guard.LocationLogin, http.StatusSeeOther)
		return
	}

	stats, err := h.stats.Stats(r.Context())
	if r.Context().Err() != nil {
		return
	}

	if errors.Is(err, domain.ErrSessionExpired) {
		http.Redirect(w, r, guard.LocationLogin, http.StatusSeeOther)
		return
	}

	data := PageData{
		Title:     "Dashboard",
		Profile:   snap.Profile,
		Stats:     stats,
		CSRFToken: middleware.GetCSRFToken(r.Context()),
	}
	if err != nil {
		observability.FromContext(r.Context()).Error("failed to load dashboard stats",
			slog.String("error", err.Error()))
		data.Error = domain.UserMessage(err)
	}

	h.pages.Render(w, http.StatusOK, "dashboard", data)
}
