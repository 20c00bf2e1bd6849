package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"shop-admin/internal/observability"
)

const CSRFTokenKey contextKey = "csrf_token"

// CSRFTokens issues and checks the console's synchronizer token
type CSRFTokens interface {
	Token() string
	Verify(submitted string) bool
}

// CSRF validates the synchronizer token on state-changing requests and exposes
// the current token to handlers so screens can embed it in their forms.
//
// Token sources, checked in order:
// - Form field: csrf_token
// - Header: X-CSRF-Token
// - Header: X-XSRF-Token
func CSRF(tokens CSRFTokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isSafeMethod(r.Method) {
				submitted := extractCSRFToken(r)
				if submitted == "" {
					logCSRFFailure(r, "missing token")
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				if !tokens.Verify(submitted) {
					logCSRFFailure(r, "invalid token")
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
			}

			ctx := context.WithValue(r.Context(), CSRFTokenKey, tokens.Token())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCSRFToken returns the token forms rendered for this request must carry
func GetCSRFToken(ctx context.Context) string {
	token, _ := ctx.Value(CSRFTokenKey).(string)
	return token
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet ||
		method == http.MethodHead ||
		method == http.MethodOptions
}

func extractCSRFToken(r *http.Request) string {
	if token := r.PostFormValue("csrf_token"); token != "" {
		return token
	}
	if token := r.Header.Get("X-CSRF-Token"); token != "" {
		return token
	}
	return r.Header.Get("X-XSRF-Token")
}

func logCSRFFailure(r *http.Request, reason string) {
	observability.FromContext(r.Context()).Warn("CSRF validation failed",
		slog.String("reason", reason),
		slog.String("method", r.Method),
		slog.String("path", r.RequestURI),
		slog.String("remote_addr", r.RemoteAddr))
}
