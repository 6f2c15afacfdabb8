package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/servly/servly-platform/internal/appointments"
	"github.com/servly/servly-platform/internal/availability"
	httpmiddleware "github.com/servly/servly-platform/internal/http/middleware"
	"github.com/servly/servly-platform/internal/identity"
	"github.com/servly/servly-platform/internal/messaging"
	"github.com/servly/servly-platform/internal/providers"
	"github.com/servly/servly-platform/internal/reviews"
	"github.com/servly/servly-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger *logging.Logger

	ProvidersHandler    *providers.Handler
	AvailabilityHandler *availability.Handler
	AppointmentsHandler *appointments.Handler
	ReviewsHandler      *reviews.Handler
	MessagingHandler    *messaging.Handler

	// AuthJWTSecret verifies bearer tokens minted by the auth backend.
	AuthJWTSecret string

	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.RateLimitPerSecond > 0 {
		r.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
	}

	// Public endpoints: discovery, availability, health. Auth is optional
	// here so signed-in users still get personalized responses.
	r.Group(func(public chi.Router) {
		if cfg.AuthJWTSecret != "" {
			public.Use(identity.OptionalUserJWT(cfg.AuthJWTSecret))
		}
		public.Get("/health", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.ProvidersHandler != nil {
			public.Get("/providers", cfg.ProvidersHandler.Search)
			public.Get("/providers/{providerID}", cfg.ProvidersHandler.Get)
		}
		if cfg.AvailabilityHandler != nil {
			public.Get("/providers/{providerID}/slots", cfg.AvailabilityHandler.Slots)
			public.Get("/providers/{providerID}/calendar", cfg.AvailabilityHandler.Calendar)
		}
		if cfg.ReviewsHandler != nil {
			public.Get("/providers/{providerID}/reviews", cfg.ReviewsHandler.List)
		}
	})

	// Authenticated endpoints.
	r.Group(func(authed chi.Router) {
		authed.Use(identity.UserJWT(cfg.AuthJWTSecret))

		if cfg.AppointmentsHandler != nil {
			authed.Route("/appointments", func(r chi.Router) {
				r.Post("/", cfg.AppointmentsHandler.Book)
				r.Get("/", cfg.AppointmentsHandler.ListMine)
				r.Get("/{appointmentID}", cfg.AppointmentsHandler.Get)
				r.Post("/{appointmentID}/cancel", cfg.AppointmentsHandler.Cancel)
				r.Delete("/{appointmentID}", cfg.AppointmentsHandler.Delete)
			})
		}

		if cfg.ProvidersHandler != nil {
			authed.Route("/me/provider", func(r chi.Router) {
				r.Get("/", cfg.ProvidersHandler.GetMine)
				r.Post("/", cfg.ProvidersHandler.Create)
				r.Put("/", cfg.ProvidersHandler.Update)
				r.Put("/avatar", cfg.ProvidersHandler.UploadAvatar)
			})
		}

		if cfg.AvailabilityHandler != nil {
			authed.Post("/providers/{providerID}/templates", cfg.AvailabilityHandler.CreateTemplate)
			authed.Get("/providers/{providerID}/templates", cfg.AvailabilityHandler.ListTemplates)
			authed.Delete("/templates/{templateID}", cfg.AvailabilityHandler.DeleteTemplate)
		}

		if cfg.ReviewsHandler != nil {
			authed.Post("/providers/{providerID}/reviews", cfg.ReviewsHandler.Create)
		}

		if cfg.MessagingHandler != nil {
			authed.Route("/threads", func(r chi.Router) {
				r.Post("/", cfg.MessagingHandler.OpenThread)
				r.Get("/", cfg.MessagingHandler.ListThreads)
				r.Get("/{threadID}/messages", cfg.MessagingHandler.ListMessages)
				r.Post("/{threadID}/messages", cfg.MessagingHandler.SendMessage)
				r.Post("/{threadID}/attachments", cfg.MessagingHandler.UploadAttachment)
			})
		}
	})

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
