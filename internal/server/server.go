package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"relaycast/internal/api"
	"relaycast/internal/observability/logging"
	"relaycast/internal/observability/metrics"
	"relaycast/internal/serverutil"
)

// TLSConfig defines certificate and key paths for enabling TLS listeners.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config controls the HTTP server runtime behaviour.
type Config struct {
	Addr            string
	TLS             TLSConfig
	RateLimit       RateLimitConfig
	CORS            CORSConfig
	Security        SecurityConfig
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
	ShutdownTimeout time.Duration
}

// Server is the assembled HTTP front of the relay service.
type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	tls             TLSConfig
	shutdownTimeout time.Duration
}

// New builds the route table and middleware chain around the API handler.
func New(handler *api.Handler, cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/counter", handler.CounterValue)
	mux.HandleFunc("/api/counter/increment", handler.CounterIncrement)
	mux.HandleFunc("/api/stream/ws", handler.StreamWebsocket)

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, err
	}
	limiter := newRateLimiter(cfg.RateLimit)

	chain := http.Handler(mux)
	chain = securityHeadersMiddleware(cfg.Security, chain)
	chain = corsMiddleware(policy, chain)
	chain = rateLimitMiddleware(limiter, logger, chain)
	chain = metricsMiddleware(recorder, chain)
	chain = loggingMiddleware(logger, chain)
	chain = requestIDMiddleware(chain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer:      httpServer,
		logger:          logger,
		tls:             cfg.TLS,
		shutdownTimeout: cfg.ShutdownTimeout,
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, ready chan<- struct{}) error {
	return serverutil.Run(ctx, serverutil.Config{
		Server:          s.httpServer,
		TLS:             serverutil.TLSConfig{CertFile: s.tls.CertFile, KeyFile: s.tls.KeyFile},
		ShutdownTimeout: s.shutdownTimeout,
		Ready:           ready,
	})
}

// Handler exposes the assembled middleware chain for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := metrics.NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)
		requestLogger := logging.WithContext(r.Context(), logger)
		requestLogger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func metricsMiddleware(recorder *metrics.Recorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := metrics.NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(wrapped, r)
		recorder.ObserveRequest(r.Method, r.URL.Path, wrapped.Status(), time.Since(start))
	})
}
