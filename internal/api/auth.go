package api

import (
	"net/http"

	"github.com/mattjoyce/blazehooks/internal/auth"
)

// authMiddleware resolves the bearer token to a tenant-bound principal.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		principal, ok := auth.Authenticate(token, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok || !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// tenantOf returns the caller's tenant. Only valid behind authMiddleware.
func tenantOf(r *http.Request) string {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p.Tenant
}
