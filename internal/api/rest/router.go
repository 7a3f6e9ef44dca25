package rest

import (
	"net/http"

	"github.com/davidmoltin/leadflow/internal/api/rest/handlers"
	customMiddleware "github.com/davidmoltin/leadflow/internal/api/rest/middleware"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router holds the HTTP router and dependencies
type Router struct {
	router   *chi.Mux
	logger   *logger.Logger
	handlers *handlers.Handlers
	metrics  *metrics.Metrics
	opts     Options
}

// Options tunes the router
type Options struct {
	// WebhookLimiter throttles the public webhook routes when set
	WebhookLimiter *customMiddleware.RateLimiter
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
	// AllowedOrigins lists the CORS origins of browser clients, the local
	// dev server when empty
	AllowedOrigins []string
	// MaxBodyBytes caps request bodies, 10MB when zero
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 10 << 20

// NewRouter creates a new HTTP router
func NewRouter(log *logger.Logger, h *handlers.Handlers, m *metrics.Metrics, opts Options) *Router {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:3000"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(customMiddleware.Metrics(m))
	r.Use(customMiddleware.SecurityHeaders())
	r.Use(customMiddleware.RequestSizeLimit(opts.MaxBodyBytes))

	allowCredentials := customMiddleware.AllowCredentials(opts.AllowedOrigins)
	if !allowCredentials {
		log.Warn("CORS allows any origin, credentials disabled")
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", handlers.IdempotencyKeyHeader},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: allowCredentials,
		MaxAge:           300,
	}))

	return &Router{
		router:   r,
		logger:   log,
		handlers: h,
		metrics:  m,
		opts:     opts,
	}
}

// Setup configures all routes
func (rt *Router) Setup() http.Handler {
	r := rt.router
	h := rt.handlers

	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)

	gatherer := rt.opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Public webhook receivers authenticate by signature or shared secret
	r.Route("/webhooks", func(r chi.Router) {
		if rt.opts.WebhookLimiter != nil {
			r.Use(customMiddleware.RateLimit(rt.opts.WebhookLimiter))
		}
		r.Get("/facebook", h.Webhook.VerifyFacebook)
		r.Post("/facebook", h.Webhook.ReceiveFacebook)
		r.Post("/inbound/*", h.Webhook.ReceiveInbound)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/events", func(r chi.Router) {
			r.Post("/", h.Event.Create)
			r.Get("/{id}", h.Event.Get)
			r.Post("/{id}/requeue", h.Event.Requeue)
		})

		r.Route("/executions", func(r chi.Router) {
			r.Get("/", h.Execution.List)
			r.Get("/{id}", h.Execution.Get)
			r.Post("/{id}/cancel", h.Execution.Cancel)
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/validate", h.Workflow.Validate)
			r.Post("/", h.Workflow.Create)
			r.Get("/", h.Workflow.List)
			r.Get("/{id}", h.Workflow.Get)
			r.Put("/{id}", h.Workflow.Update)
			r.Delete("/{id}", h.Workflow.Delete)
			r.Post("/{id}/activate", h.Workflow.Activate)
			r.Post("/{id}/deactivate", h.Workflow.Deactivate)
			r.Get("/{id}/schedule/next-runs", h.Schedule.GetNextRuns)
		})

		r.Get("/schedules", h.Schedule.ListSchedules)

		r.Route("/leads", func(r chi.Router) {
			r.Post("/", h.Lead.Create)
			r.Get("/{id}", h.Lead.Get)
			r.Put("/{id}/status", h.Lead.UpdateStatus)
		})
	})

	return r
}
