package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"shop-admin/internal/domain"
	"shop-admin/internal/guard"
	"shop-admin/internal/service"
)

//go:embed templates/*.html
var templateFS embed.FS

// PageData is the view model shared by all console screens
type PageData struct {
	Title     string
	Refresh   bool
	Error     string
	Username  string
	CSRFToken string
	Profile   *domain.Profile
	Stats     *service.DashboardStats
}

// Pages renders the console screens
type Pages struct {
	tmpl *template.Template
}

func NewPages() (*Pages, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Pages{tmpl: tmpl}, nil
}

// Render writes page name with status. The page is rendered to a buffer first so
// a template error never leaves a half-written response.
func (p *Pages) Render(w http.ResponseWriter, status int, name string, data PageData) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// Loading shows the loading screen, which reloads itself until the session has
// settled. Form posts made while loading are sent back to the home screen.
func (p *Pages) Loading() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Redirect(w, r, guard.LocationHome, http.StatusSeeOther)
			return
		}
		p.Render(w, http.StatusOK, "loading", PageData{
			Title:   "Loading",
			Refresh: true,
		})
	})
}
