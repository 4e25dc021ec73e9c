package api

import (
	"net/http"

	"github.com/mattjoyce/reroute/internal/auth"
)

func (s *Server) authEnabled() bool {
	return s.config.APIKey != "" || len(s.config.Tokens) > 0
}

// authMiddleware authenticates the bearer token and stores the principal on the
// request context. With neither a key nor tokens configured the API is open.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		principal, ok := auth.Authenticate(token, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// requireScopes rejects principals holding none of scopes.
func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.authEnabled() {
				next.ServeHTTP(w, r)
				return
			}
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok || !auth.HasAnyScope(p, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
