package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/shipgate/shipgate/pkg/events"
	"github.com/shipgate/shipgate/pkg/log"
	"github.com/shipgate/shipgate/pkg/metrics"
	"github.com/shipgate/shipgate/pkg/rollout"
	"github.com/shipgate/shipgate/pkg/storage"
)

const (
	// HTTP server timeouts
	readTimeout  = 10 * time.Second
	writeTimeout = 15 * time.Minute // synchronous rollouts block the response
	idleTimeout  = 60 * time.Second
)

// Server is the HTTP trigger surface for CI systems. A pipeline POSTs a
// rollout once its build/test stage has passed and reads the terminal
// state back.
type Server struct {
	controller *rollout.Controller
	store      storage.Store
	broker     *events.Broker
	logger     zerolog.Logger
	http       *http.Server
}

// NewServer creates the API server. broker may be nil; the event stream
// endpoint then reports unavailable.
func NewServer(controller *rollout.Controller, store storage.Store, broker *events.Broker) *Server {
	return &Server{
		controller: controller,
		store:      store,
		broker:     broker,
		logger:     log.WithComponent("api"),
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/rollouts", s.handleCreateRollout)
		r.Get("/rollouts", s.handleListRollouts)
		r.Get("/rollouts/{rolloutID}", s.handleGetRollout)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// Start runs the server until Shutdown is called
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	s.logger.Info().Str("addr", addr).Msg("API server listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// logRequests emits one structured record per request
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
			s.logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("Request")
		}()

		next.ServeHTTP(ww, r)
	})
}
