package api

import (
	"log/slog"
	"net/http"

	"github.com/dgallion1/ragingest/internal/pipeline"
	"github.com/dgallion1/ragingest/internal/sink"
	"github.com/dgallion1/ragingest/internal/stats"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options carries the optional collaborators of the server.
type Options struct {
	APIKey    string // empty disables bearer auth
	SinkStats *stats.SinkStats
	Sink      sink.Sink // reported as "stored" when it implements sink.Counter
	Gatherer  prometheus.Gatherer
}

// Server is the HTTP API server for ragingest.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	log          *slog.Logger
	opts         Options
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, log *slog.Logger, opts Options) *Server {
	s := &Server{
		orchestrator: orch,
		log:          log,
		opts:         opts,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		if s.opts.APIKey != "" {
			r.Use(AuthMiddleware(s.opts.APIKey, s.log))
		}

		r.Post("/api/ingest", s.handleIngest)
		r.Get("/api/ingest/{runID}/status", s.handleIngestStatus)
		r.Post("/api/merge", s.handleMerge)
		r.Get("/api/stats/sink", s.handleSinkStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_runs": s.orchestrator.ActiveRuns(),
	})
}
