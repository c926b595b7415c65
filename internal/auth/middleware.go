package auth

import (
	"net/http"
	"strings"

	"github.com/go-chi/render"
)

// RequireBearer returns middleware that rejects requests lacking a valid
// admin bearer token. Grounded on a chi/render-based AuthMiddleware, minus
// the context-embedded claims (there is only ever one principal here).
func RequireBearer(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")

			token, ok := strings.CutPrefix(header, "Bearer ")
			if header == "" || !ok {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "authorization header required"})

				return
			}

			if _, err := svc.ValidateToken(token); err != nil {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "invalid token"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
