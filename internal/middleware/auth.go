package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mroshb/clan_portal/internal/httpx"
	"github.com/mroshb/clan_portal/internal/security"
	"github.com/mroshb/clan_portal/pkg/errors"
	"github.com/mroshb/clan_portal/pkg/logger"
)

// Authenticator resolves a bearer token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*security.Principal, error)
}

// Authenticate attaches the caller's principal to the request context.
// Requests without a bearer token continue anonymously; a token that does
// not verify is rejected with 401.
func Authenticate(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			p, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				logger.Debug("Rejected bearer token", "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()), "error", err)
				httpx.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(security.WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if security.PrincipalFrom(r.Context()) == nil {
			httpx.WriteError(w, r, errors.New(errors.ErrCodeUnauthorized, "authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	raw := r.Header.Get("Authorization")
	if len(raw) < len("Bearer ") || !strings.EqualFold(raw[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(raw[len("Bearer "):])
}
