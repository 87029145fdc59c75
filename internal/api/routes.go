package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/campaign-dispatcher/internal/pkg/httputil"
)

// UserHeader identifies the campaign owner on every /api request.
const UserHeader = "X-User-ID"

type ctxKey int

const userKey ctxKey = iota

// SetupRoutes configures all routes.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	// OAuth flow (browser redirects cannot carry headers)
	r.Get("/auth/google/connect", h.ConnectGoogle)
	r.Get("/auth/google/callback", h.GoogleCallback)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireUser)

		r.Get("/account", h.GetAccount)
		r.Get("/quota", h.GetQuota)
		r.Post("/template/variables", h.TemplateVariables)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Delete("/", h.DeleteCampaign)
				r.Put("/template", h.UpdateTemplate)

				r.Get("/recipients", h.ListRecipients)
				r.Post("/recipients", h.ImportRecipients)
				r.Post("/attachments", h.AddAttachment)
				r.Delete("/attachments/{attachmentId}", h.RemoveAttachment)

				r.Post("/start", h.StartCampaign)
				r.Post("/pause", h.PauseCampaign)
				r.Post("/resume", h.ResumeCampaign)

				r.Get("/progress", h.GetProgress)
				r.Get("/progress/stream", h.StreamProgress)
				r.Get("/sent", h.ListSent)
			})
		})

		r.Route("/suppressions", func(r chi.Router) {
			r.Get("/", h.ListSuppressions)
			r.Post("/", h.AddSuppression)
			r.Delete("/", h.RemoveSuppression)
			r.Get("/stats", h.SuppressionStats)
		})
	})

	return r
}

// requireUser rejects /api requests without an owner header. EventSource
// cannot set headers, so the user_id query parameter is accepted as well.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			userID = r.URL.Query().Get("user_id")
		}
		if userID == "" {
			httputil.Error(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, userID)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey).(string)
	return id
}
