package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"terraguard/internal/config"
	"terraguard/internal/events"
	"terraguard/internal/model"
	"terraguard/internal/monitor"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP surface is wired to.
type Deps struct {
	Simulation Simulation
	Classifier model.Classifier
	Regressor  model.Regressor
	Store      Pinger
	Hub        *events.Hub
	Metrics    *monitor.Metrics
}

// Server is the HTTP server for the simulation API.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	deps       Deps
	cfg        *config.Config
	startTime  time.Time
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = monitor.NewMetrics()
	}
	handlers := NewHandlers(deps.Simulation, deps.Classifier, deps.Regressor, deps.Metrics, cfg.Simulation.HistoryLimit)

	s := &Server{
		handlers:  handlers,
		deps:      deps,
		cfg:       cfg,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handlers.HandleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /simulation/start", handlers.HandleStart)
	mux.HandleFunc("POST /simulation/stop", handlers.HandleStop)
	mux.HandleFunc("POST /simulation/reset", handlers.HandleReset)
	mux.HandleFunc("GET /simulation/status", handlers.HandleStatus)
	mux.HandleFunc("GET /simulation/history", handlers.HandleHistory)
	mux.HandleFunc("POST /simulation/set-speed", handlers.HandleSetSpeed)
	mux.HandleFunc("POST /simulation/set-mode", handlers.HandleSetMode)

	mux.HandleFunc("POST /predict/classification", handlers.HandlePredictClassification)
	mux.HandleFunc("POST /predict/regression", handlers.HandlePredictRegression)

	if deps.Hub != nil {
		mux.HandleFunc("GET /simulation/stream", handlers.HandleStream(deps.Hub))
		mux.HandleFunc("GET /simulation/ws", handlers.HandleWS(deps.Hub, cfg.Security.AllowedOrigins))
	}

	// Apply middleware chain (outermost last)
	var handler http.Handler = mux
	handler = MetricsMiddleware(deps.Metrics)(handler)
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = CORSMiddleware(cfg.Security.AllowedOrigins)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for requests.
func (s *Server) Start() error {
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("store health check failed")
			dbOK = false
		}
	}

	resp := HealthResponse{
		Status:   "ok",
		Database: dbOK,
		Running:  s.deps.Simulation.Status().Running,
		Uptime:   Duration{Duration: time.Since(s.startTime).Round(time.Second)},
	}

	status := http.StatusOK
	if !dbOK {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
