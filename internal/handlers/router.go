package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/mroshb/clan_portal/internal/middleware"
	"github.com/mroshb/clan_portal/internal/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes builds the HTTP router.
func (h *HandlerManager) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Observe)
	r.Use(chimw.Timeout(30 * time.Second))

	perIP := 100
	window := time.Minute
	if h.Config != nil {
		perIP = h.Config.RateLimitPerIP
		window = h.Config.GetRateLimitWindow()
	}
	r.Use(httprate.LimitByIP(perIP, window))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Authenticate(h.Users))
		if h.Limiter != nil {
			r.Use(h.Limiter.LimitWrites)
		}

		r.Get("/census", h.GetCensus)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Get("/me", h.GetMe)
			r.Get("/applications", h.ListMyApplications)
			r.Post("/applications", h.SubmitApplication)
			r.Post("/users/game-id", h.SetGameID)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireRoles(models.RoleAdmin, models.RoleModerator))

			r.Get("/applications", h.AdminListApplications)
			r.Get("/applications/{id}", h.AdminGetApplication)
			r.Post("/applications/{id}/review", h.AdminReviewApplication)
			r.Post("/applications/{id}/archive", h.AdminArchiveApplication)

			r.Get("/villages", h.AdminListVillages)
			r.Post("/villages", h.AdminCreateVillage)
			r.Get("/villages/{id}", h.AdminGetVillage)
			r.Patch("/villages/{id}", h.AdminUpdateVillage)
			r.Delete("/villages/{id}", h.AdminDeleteVillage)
			r.Post("/villages/{id}/clans", h.AdminCreateClan)
			r.Patch("/clans/{id}", h.AdminUpdateClan)
			r.Delete("/clans/{id}", h.AdminDeleteClan)

			r.Get("/users", h.AdminListUsers)
			r.Put("/users/{id}/roles", h.AdminSetUserRoles)
			r.Get("/roles", h.AdminListRoles)
			r.Post("/roles", h.AdminCreateRole)

			r.Get("/settings", h.AdminGetSettings)
			r.Patch("/settings", h.AdminUpdateSettings)

			r.Get("/census.xlsx", h.AdminExportCensus)
			r.Post("/census/import", h.AdminImportCensus)
		})
	})

	return r
}

func (h *HandlerManager) allowedOrigins() []string {
	if h.Config == nil || len(h.Config.CORSOrigins) == 0 {
		if h.Config != nil && h.Config.PublicURL != "" {
			return []string{h.Config.PublicURL}
		}
		return []string{"*"}
	}
	return h.Config.CORSOrigins
}
