// Package api exposes the planner over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"option-planner/internal/logging"
	"option-planner/internal/metrics"
	"option-planner/internal/planner"
	"option-planner/internal/stream"
	"option-planner/pkg/utils"
)

// Options configures a Server.
type Options struct {
	Planner *planner.Service
	Hub     *stream.Hub // nil disables /api/v1/ws and event publishing
	Clock   func() time.Time
	Logger  zerolog.Logger
	Timeout time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	planner *planner.Service
	hub     *stream.Hub
	clock   func() time.Time
	logger  zerolog.Logger
	timeout time.Duration
}

// NewServer creates the HTTP layer.
func NewServer(opts Options) *Server {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		planner: opts.Planner,
		hub:     opts.Hub,
		clock:   clock,
		logger:  opts.Logger.With().Str("component", "api").Logger(),
		timeout: timeout,
	}
}

// now returns the current IST instant. Handlers run behind requireClock,
// so the clock has already been checked.
func (s *Server) now() time.Time {
	return utils.InIST(s.clock())
}

// requireClock refuses requests while the injected clock reports a malformed
// instant. That is an environment fault, not something a form edit can fix.
func (s *Server) requireClock(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := utils.Normalize(s.clock()); err != nil {
			reqLogger := logging.FromContext(r.Context())
			reqLogger.Error().Err(err).Msg("Clock returned a malformed instant")
			writeError(w, "clock unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"Location"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "option-planner"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.ServeWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.timeout))
			r.Use(s.requireClock)

			r.Get("/catalog", s.GetCatalog)
			r.Get("/gate", s.GetGate)

			r.Post("/drafts", s.CreateDraft)
			r.Get("/drafts/{draftID}", s.GetDraft)
			r.Patch("/drafts/{draftID}", s.PatchDraft)
			r.Delete("/drafts/{draftID}", s.DiscardDraft)
			r.Post("/drafts/{draftID}/submit", s.SubmitDraft)

			r.Get("/plans", s.ListPlans)
			r.Get("/plans/{planID}", s.GetPlan)
			r.Delete("/plans/{planID}", s.DeletePlan)
			r.Get("/plans/{planID}/next", s.GetNextTrade)
			r.Post("/plans/{planID}/outcomes", s.RecordOutcome)
			r.Post("/plans/{planID}/complete", s.CompleteRun)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metrics.StatusWriter{ResponseWriter: w, Status: http.StatusOK}
		logger := s.logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		next.ServeHTTP(sw, r.WithContext(logging.WithLogger(r.Context(), logger)))
		logging.LogAPICall(logger, r.Method, r.URL.Path, sw.Status, time.Since(start))
	})
}

func (s *Server) publish(e stream.Event) {
	if s.hub != nil {
		s.hub.Publish(e)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
