package httpapi

import (
	"net/http"
	"strings"

	apperrors "github.com/ferrogym/ferrogym/internal/platform/errors"
	"github.com/ferrogym/ferrogym/internal/platform/requestctx"
	"github.com/ferrogym/ferrogym/internal/services/auth/token"
)

// Authenticate resolves a bearer access token into a request principal.
// Requests without an Authorization header pass through unauthenticated so
// public endpoints stay reachable; presenting a bad token is always a 401.
func Authenticate(tokens *token.Service, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if authorization == "" {
			next.ServeHTTP(w, r)
			return
		}

		rest, ok := strings.CutPrefix(authorization, "Bearer ")
		if !ok {
			writeUnauthorized(w, apperrors.New(apperrors.CodeInvalidToken, "authorization scheme must be Bearer"))
			return
		}
		claims, err := tokens.VerifyAccess(strings.TrimSpace(rest))
		if err != nil {
			writeUnauthorized(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(requestctx.WithPrincipalID(r.Context(), claims.PrincipalID)))
	})
}

// RequirePrincipal rejects unauthenticated requests before they reach the
// handler.
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestctx.PrincipalIDFromContext(r.Context()) == "" {
			writeUnauthorized(w, apperrors.New(apperrors.CodeAuthRequired, "authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	writeError(w, err)
}
