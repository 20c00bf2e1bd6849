package middleware

import (
	"net/http"

	"shop-admin/internal/observability"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RequestContext copies chi's request ID into the logging context, from where the
// gateway forwards it to the API. Must run after chimiddleware.RequestID.
func RequestContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := chimiddleware.GetReqID(r.Context())
			if reqID == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), reqID)))
		})
	}
}
