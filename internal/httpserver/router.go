package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"protoscribe/internal/handlers"
	"protoscribe/internal/metrics"
	"protoscribe/internal/middleware"
)

func SetupRouter(
	r *chi.Mux,
	baseLogger *zap.Logger,
	protocolHandler *handlers.ProtocolHandler,
	cacheAdmin *handlers.CacheAdminHandler,
	mappings *handlers.MappingHandler,
) {
	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.MaxBodySize(1 * 1024 * 1024)) // 1 MB max body

	// routes
	r.Route("/v1", func(r chi.Router) {
		// Protocol generation can take minutes on a cold cache; its
		// timeout is far looser than the admin endpoints'.
		r.With(middleware.Timeout(10 * time.Minute)).
			Post("/protocols", protocolHandler.CreateProtocol)

		r.Route("/cache", func(r chi.Router) {
			r.Use(middleware.Timeout(15 * time.Second))
			r.Get("/stats", cacheAdmin.GetStats)
			r.Post("/clear", cacheAdmin.Clear)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(15 * time.Second))
			r.Put("/mappings/{chatID}", mappings.Save)
			r.Get("/mappings/{chatID}", mappings.Get)
			r.Delete("/mappings/{chatID}", mappings.Delete)
		})
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
