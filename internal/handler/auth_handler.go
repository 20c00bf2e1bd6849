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
	"shop-admin/internal/session"
)

// Authenticator runs the login and logout protocols
type Authenticator interface {
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context)
}

// AuthHandler serves the login screen and the logout action
type AuthHandler struct {
	auth    Authenticator
	machine *session.Machine
	pages   *Pages
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(auth Authenticator, machine *session.Machine, pages *Pages) *AuthHandler {
	return &AuthHandler{
		auth:    auth,
		machine: machine,
		pages:   pages,
	}
}

// LoginPage shows the login form with the last login error, if any
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.pages.Render(w, http.StatusOK, "login", PageData{
		Title:     "Sign in",
		Error:     h.machine.Snapshot().Error,
		CSRFToken: middleware.GetCSRFToken(r.Context()),
	})
}

// Login handles the login form
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.pages.Render(w, http.StatusBadRequest, "login", PageData{
			Title:     "Sign in",
			Error:     "Invalid form submission",
			CSRFToken: middleware.GetCSRFToken(r.Context()),
		})
		return
	}

	username := r.PostFormValue("username")
	err := h.auth.Login(r.Context(), username, r.PostFormValue("password"))

	// the operator navigated away while the request was in flight
	if r.Context().Err() != nil {
		return
	}

	if err == nil {
		http.Redirect(w, r, guard.LocationHome, http.StatusSeeOther)
		return
	}

	status, message := h.loginFailure(err)
	observability.FromContext(r.Context()).Info("login form rejected",
		slog.Int("status", status))

	h.pages.Render(w, status, "login", PageData{
		Title:     "Sign in",
		Error:     message,
		Username:  username,
		CSRFToken: middleware.GetCSRFToken(r.Context()),
	})
}

func (h *AuthHandler) loginFailure(err error) (int, string) {
	var validationErr *domain.ValidationError
	var apiErr *domain.APIError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity, domain.UserMessage(err)
	case errors.Is(err, domain.ErrTooManyAttempts):
		return http.StatusTooManyRequests, domain.UserMessage(err)
	case errors.As(err, &apiErr):
		return http.StatusUnauthorized, apiErr.Message
	default:
		message := h.machine.Snapshot().Error
		if message == "" {
			message = domain.UserMessage(err)
		}
		return http.StatusBadGateway, message
	}
}

// Logout ends the session
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(r.Context())
	http.Redirect(w, r, guard.LocationLogin, http.StatusSeeOther)
}
