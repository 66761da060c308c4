package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/clinicbook/scheduling-core/internal/appointment"
	"github.com/clinicbook/scheduling-core/internal/availability"
)

type RouterConfig struct {
	Templates   *availability.TemplateStore
	Statuses    *availability.StatusRegister
	Resolver    *availability.Resolver
	Doctors     availability.DoctorChecker
	Ledger      *appointment.Ledger
	Coordinator *appointment.Coordinator

	Health   []Dependency
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger

	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", headerActorID, headerActorRole},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	health := NewHealthHandler(cfg.Health, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimitRPS > 0 {
		limit = RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Route("/availability", func(r chi.Router) {
			r.Get("/{doctorId}/{date}", resolveSlotsHandler(cfg.Resolver))
			r.Get("/{doctorId}/status", currentStatusHandler(cfg.Statuses, cfg.Doctors))
			r.Get("/{doctorId}/status/history", statusHistoryHandler(cfg.Statuses, cfg.Doctors))

			r.Group(func(r chi.Router) {
				r.Use(RequireActor(RoleDoctor))
				r.Get("/time-slots", listTemplatesHandler(cfg.Templates))

				r.With(limit).Put("/status", setStatusHandler(cfg.Statuses))
				r.With(limit).Post("/time-slot", upsertTemplateHandler(cfg.Templates))
				r.With(limit).Put("/time-slot/{id}/toggle", toggleTemplateHandler(cfg.Templates))
				r.With(limit).Delete("/time-slot/{id}", deleteTemplateHandler(cfg.Templates))
			})
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Use(RequireActor())

			r.With(limit, RequireActor(RolePatient)).Post("/", bookAppointmentHandler(cfg.Coordinator))
			r.Get("/", listAppointmentsHandler(cfg.Ledger))
			r.Get("/{id}", getAppointmentHandler(cfg.Ledger))
			r.With(limit).Delete("/{id}", cancelAppointmentHandler(cfg.Ledger))
			r.With(limit).Put("/{id}", updateAppointmentHandler(cfg.Ledger))
		})
	})

	return r
}
