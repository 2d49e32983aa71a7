package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kailas-cloud/ragbot/internal/metrics"
)

// Router returns the full HTTP handler: middleware stack plus every route.
func (s *Server) Router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(JSONRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEventMiddleware(s.logger))
	r.Use(CORS(corsOrigins))
	r.Use(metrics.Middleware())
	r.Use(s.AuthMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})

	r.Get("/info", s.Info)
	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/auth/login", s.Login)
	r.Post("/ask", s.Ask)

	r.Route("/threads", func(r chi.Router) {
		r.Post("/", s.CreateThread)
		r.Post("/search", s.SearchThreads)
		r.Route("/{thread_id}", func(r chi.Router) {
			r.Get("/", s.GetThread)
			r.Delete("/", s.DeleteThread)
			r.Get("/history", s.ThreadHistory)
			r.Post("/history", s.ThreadHistory)
			r.Get("/state", s.ThreadState)
			r.Post("/state", s.ThreadState)
			r.Post("/runs/stream", s.StreamRun)
		})
	})

	r.Route("/kb", func(r chi.Router) {
		r.Get("/files", s.ListKBFiles)
		r.Post("/files", s.UploadKBFile)
		r.Delete("/files/{name}", s.DeleteKBFile)
		r.Post("/reindex", s.Reindex)
	})
	return r
}
