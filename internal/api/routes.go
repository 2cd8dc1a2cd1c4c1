package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router and all endpoints.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/queue", func(r chi.Router) {
			r.Post("/", h.EnqueueMessage)
			r.Post("/batch", h.EnqueueBatch)
			r.Get("/stats", h.QueueStats)
			r.Get("/", h.ListQueueItems)
			r.Get("/{id}", h.GetQueueItem)
			r.Post("/{id}/cancel", h.CancelQueueItem)
			r.Post("/{id}/retry", h.RetryQueueItem)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.QueryEvents)
			r.Get("/stats", h.EventDailyCounts)
			r.Get("/funnel", h.EventFunnel)
			r.Get("/message/{id}", h.MessageHistory)
		})

		r.Route("/suppressions", func(r chi.Router) {
			r.Get("/", h.ListSuppressions)
			r.Post("/", h.AddSuppression)
			r.Get("/{email}", h.GetSuppression)
			r.Delete("/{email}", h.RemoveSuppression)
		})

		r.Get("/bounces/{email}", h.GetBounce)
		r.Get("/complaints/{email}", h.GetComplaint)
		r.Post("/unsubscribes", h.AddUnsubscribe)

		// Provider webhook intake. Providers differ only in payload shape;
		// all of them post the neutral notification format here.
		r.Post("/feedback", h.ReceiveFeedback)
		r.Post("/feedback/{type}", h.ReceiveFeedback)
	})

	return r
}
