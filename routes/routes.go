package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/IshaVishwakarma/llm-observability/app"
	"github.com/IshaVishwakarma/llm-observability/config"
	"github.com/IshaVishwakarma/llm-observability/handlers"
	"github.com/IshaVishwakarma/llm-observability/middleware"
	"github.com/IshaVishwakarma/llm-observability/repositories"
	"github.com/IshaVishwakarma/llm-observability/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout(deps.Config)))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var db repositories.HealthChecker
	if deps.DB != nil {
		db = deps.DB
	}
	health := handlers.NewHealthHandler(db, deps.Logger)
	llmHandler := handlers.NewLLMHandler(deps.LLM, deps.Logger)
	metricsHandler := handlers.NewMetricsHandler(deps.Analytics, deps.Alerts, deps.Logger)

	// Health check endpoints
	r.Get("/health", health.HandleHealth)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Metrics != nil && deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/llm", func(r chi.Router) {
			r.Post("/query", llmHandler.HandleQuery)
			r.Post("/compare", llmHandler.HandleCompare)
			r.Post("/feedback", llmHandler.HandleFeedback)
		})
		r.Get("/models", llmHandler.HandleModels)

		r.Get("/logs", metricsHandler.HandleLogs)
		r.Route("/metrics", func(r chi.Router) {
			r.Get("/summary", metricsHandler.HandleSummary)
			r.Get("/token-trend", metricsHandler.HandleTokenTrend)
			r.Get("/latency-trend", metricsHandler.HandleLatencyTrend)
			r.Get("/error-trend", metricsHandler.HandleErrorTrend)
		})
		r.Get("/alerts", metricsHandler.HandleAlerts)
		r.Get("/user/analytics/{sessionId}", metricsHandler.HandleSessionAnalytics)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}

func requestTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.RequestTimeout > 0 {
		return cfg.Server.RequestTimeout
	}
	return config.DefaultRequestTimeout
}
