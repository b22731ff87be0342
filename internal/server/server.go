// Package server provides the HTTP API for ChakraOps: decision reads,
// manual evaluation triggers, universe and snapshot management, freeze
// control, and the live event stream.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/config"
	"github.com/swap2you/chakraops-sub000/internal/database"
	"github.com/swap2you/chakraops-sub000/internal/evaluation"
	"github.com/swap2you/chakraops-sub000/internal/events"
	"github.com/swap2you/chakraops-sub000/internal/heartbeat"
	"github.com/swap2you/chakraops-sub000/internal/market_regime"
	"github.com/swap2you/chakraops-sub000/internal/modules/decisions"
	"github.com/swap2you/chakraops-sub000/internal/modules/freeze"
	"github.com/swap2you/chakraops-sub000/internal/modules/market_hours"
	mhhandlers "github.com/swap2you/chakraops-sub000/internal/modules/market_hours/handlers"
	"github.com/swap2you/chakraops-sub000/internal/modules/positions"
	"github.com/swap2you/chakraops-sub000/internal/modules/snapshots"
	snaphandlers "github.com/swap2you/chakraops-sub000/internal/modules/snapshots/handlers"
	"github.com/swap2you/chakraops-sub000/internal/modules/universe"
	unihandlers "github.com/swap2you/chakraops-sub000/internal/modules/universe/handlers"
)

// Config wires the server to every component it fronts.
type Config struct {
	Log             zerolog.Logger
	Cfg             *config.Config
	Decisions       *decisions.Store
	Engine          *evaluation.Engine
	Guard           *freeze.Guard
	Freeze          *freeze.Service
	FreezeState     *freeze.StateRepository
	Calendar        *market_hours.Calendar
	Universe        *universe.Service
	SnapshotRepo    *snapshots.Repository
	SnapshotBuilder *snapshots.Builder
	Regimes         *market_regime.Detector
	Alerts          *heartbeat.AlertRepository
	Positions       *positions.Service
	Worker          *heartbeat.Worker
	Bus             *events.Bus
	Databases       map[string]*database.DB
}

// Server is the HTTP front of the process.
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    Config
	log    zerolog.Logger
}

// New creates the server and mounts all routes.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the events stream holds connections open
	}
	return s
}

// Router exposes the mux, used by tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "x-ui-key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if !s.cfg.Cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	decision := NewDecisionHandlers(s.cfg.Decisions, s.cfg.Engine, s.cfg.Guard, s.cfg.Calendar, s.cfg.Universe, s.cfg.Worker, s.log)
	freezeH := NewFreezeHandlers(s.cfg.Freeze, s.cfg.FreezeState, s.log)
	regime := NewRegimeHandlers(s.cfg.Regimes, s.log)
	alerts := NewAlertHandlers(s.cfg.Alerts, s.log)
	posH := NewPositionHandlers(s.cfg.Positions, s.log)
	system := NewSystemHandlers(s.cfg.Cfg.DataDir, s.cfg.Databases, s.cfg.Worker, s.log)
	stream := NewEventsStreamHandler(s.cfg.Bus, s.log)

	uniH := unihandlers.NewUniverseHandlers(s.cfg.Universe, s.log)
	mhH := mhhandlers.NewHandler(s.cfg.Calendar, s.log)
	snapH := snaphandlers.NewSnapshotHandlers(s.cfg.SnapshotBuilder, s.cfg.SnapshotRepo, s.log)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/events", stream.ServeWS)

		decision.RegisterRoutes(r)
		freezeH.RegisterRoutes(r)
		regime.RegisterRoutes(r)
		alerts.RegisterRoutes(r)
		posH.RegisterRoutes(r)
		system.RegisterRoutes(r)

		mhH.RegisterRoutes(r)
		snapH.RegisterRoutes(r)

		r.Route("/universe", func(r chi.Router) {
			r.Get("/", uniH.HandleList)
			r.Post("/", uniH.HandleUpsert)
			r.Get("/{symbol}", uniH.HandleGet)
			r.Patch("/{symbol}", uniH.HandleSetEnabled)
			r.Delete("/{symbol}", uniH.HandleDelete)
		})
	})
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth is the unauthenticated liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.log, map[string]interface{}{"status": "ok"})
}

// authMiddleware enforces the x-ui-key header when UI_API_KEY is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	key := s.cfg.Cfg.UIAPIKey
	if key == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get("x-ui-key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
