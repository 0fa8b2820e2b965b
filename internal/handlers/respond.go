package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mroshb/clan_portal/internal/httpx"
	"github.com/mroshb/clan_portal/internal/security"
	"github.com/mroshb/clan_portal/internal/services"
	"github.com/mroshb/clan_portal/pkg/errors"
)

// requireRoles rejects callers holding none of roles before any handler
// reads the request. Finer checks happen in the review service.
func requireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := services.Authorize(security.PrincipalFrom(r.Context()), roles...); err != nil {
				httpx.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func pathID(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New(errors.ErrCodeValidation, "invalid "+name)
	}
	return uint(id), nil
}

func queryUint(r *http.Request, name string) (uint, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.New(errors.ErrCodeValidation, "invalid "+name)
	}
	return uint(v), nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(errors.ErrCodeValidation, "invalid "+name)
	}
	return v, nil
}
