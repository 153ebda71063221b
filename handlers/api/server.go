package api

import (
	"context"
	"net/http"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/config"
	"github.com/nijaru/yt-analyze/middleware"
	"github.com/nijaru/yt-analyze/services/analysis"
	"github.com/nijaru/yt-analyze/services/transcript"
)

type Server struct {
	transcript *TranscriptHandler
	analysis   *AnalysisHandler
	config     *config.Config
	logger     *logrus.Logger
	server     *http.Server
	startTime  time.Time
}

type ServerOption func(*Server)

// NewServer creates a new API server with the provided services and options
func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	s := &Server{
		config:    cfg,
		logger:    logrus.StandardLogger(),
		startTime: time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.server = &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// WithServices sets up the handlers with the provided services
func WithServices(transcriptSvc transcript.Service, analysisSvc analysis.Service) ServerOption {
	return func(s *Server) {
		s.transcript = NewTranscriptHandler(transcriptSvc, s.logger)
		s.analysis = NewAnalysisHandler(analysisSvc, s.logger)
	}
}

// WithLogger sets a custom logger for the server. It must precede WithServices.
func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	s.logger.WithField("port", s.config.ServerPort).Info("Starting server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /transcript", s.transcript.HandleTranscript)
	mux.HandleFunc("POST /summarize", s.analysis.HandleSummarize)
	mux.HandleFunc("POST /sentiment", s.analysis.HandleSentiment)
	mux.HandleFunc("POST /keywords", s.analysis.HandleKeywords)
	mux.HandleFunc("POST /answer", s.analysis.HandleAnswer)

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.config.StaticDir))))

	return s.middleware(mux)
}

func (s *Server) middleware(handler http.Handler) http.Handler {
	mw := s.config.Middleware

	var middlewares []func(http.Handler) http.Handler
	if mw.EnableRecover {
		middlewares = append(middlewares, middleware.Recovery(s.logger))
	}
	if mw.EnableRequestID {
		middlewares = append(middlewares, middleware.RequestID())
	}
	if mw.EnableLogger {
		middlewares = append(middlewares, middleware.Logging(s.logger))
	}
	if mw.EnableCORS {
		middlewares = append(middlewares, middleware.CORS(s.config.CORS))
	}
	if mw.EnableRateLimit && s.config.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(
			s.config.RateLimit.RequestsPerMinute,
			s.config.RateLimit.BurstSize,
		)
		middlewares = append(middlewares, limiter.Middleware)
	}
	if mw.EnableTimeout {
		middlewares = append(middlewares, middleware.Timeout(s.config.RequestTimeout))
	}

	return middleware.Chain(handler, middlewares...)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.config.StaticDir, "index.html"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   s.config.Version,
		"uptime":    time.Since(s.startTime).String(),
	}

	if s.config.Debug {
		status["debug"] = true
		status["goroutines"] = runtime.NumGoroutine()
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		status["memory"] = map[string]interface{}{
			"allocated": m.Alloc,
			"total":     m.TotalAlloc,
			"system":    m.Sys,
			"gc_cycles": m.NumGC,
		}
	}

	respondJSON(w, r, http.StatusOK, status)
}
