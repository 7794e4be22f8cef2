package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/brojonat/gsoltrack/service/config"
	"github.com/brojonat/gsoltrack/service/ingest"
	"github.com/brojonat/gsoltrack/service/ledger"
	"github.com/brojonat/gsoltrack/service/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the gSOL ledger service.
type Server struct {
	addr      string
	cfg       *config.Config
	store     ledger.Store
	queries   *ledger.Service
	processor *ingest.Processor
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the /metrics endpoint is not mounted.
func New(addr string, cfg *config.Config, store ledger.Store, processor *ingest.Processor, m *metrics.Metrics, logger *slog.Logger) *Server {
	queries := ledger.NewService(store, ledger.ResolverConfig{
		MaxDegree:    cfg.MaxGraphDegree,
		QueryTimeout: cfg.GraphQueryTimeout,
	}, m, logger)
	return &Server{
		addr:      addr,
		cfg:       cfg,
		store:     store,
		queries:   queries,
		processor: processor,
		metrics:   m,
		logger:    logger,
	}
}

// Handler builds the routed handler. Exposed so tests can drive it through
// httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, label string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, label)(h))
	}

	webhook := handleWebhook(s.processor, s.cfg.WebhookAuthToken, s.cfg.WebhookTimeout, s.metrics, s.logger)
	route("POST /api/v1/webhook", "/api/v1/webhook", webhook)
	route("POST /handleTransaction", "/api/v1/webhook", webhook)

	route("GET /api/v1/neighbours/{address}", "/api/v1/neighbours/{address}",
		handleGetNeighbours(s.queries, s.cfg.DefaultGraphDegree, s.logger))
	route("GET /api/v1/leaderboard", "/api/v1/leaderboard", handleGetLeaderboard(s.store, s.logger))
	route("GET /api/v1/transactions", "/api/v1/transactions", handleListTransactions(s.store, s.logger))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: max(s.cfg.GraphQueryTimeout, s.cfg.WebhookTimeout) + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
