// Package server exposes the protocol over HTTP and WebSocket.
package server

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"

	"dough/core"
	"dough/observability"
	"dough/services/doughd/audit"
	"dough/services/doughd/auth"
)

// Config captures the dependencies of the API server.
type Config struct {
	Node           *core.Node
	Verifier       *auth.Verifier
	Audit          *audit.Store
	Stream         *Broadcaster
	RateLimit      RateLimit
	FaucetEnabled  bool
	MaxConnections int
	Logger         *slog.Logger
}

// Server serves the doughd API.
type Server struct {
	node     *core.Node
	verifier *auth.Verifier
	audit    *audit.Store
	stream   *Broadcaster
	limiter  *RateLimiter
	faucet   bool
	maxConns int
	logger   *slog.Logger

	router http.Handler
}

// New constructs a server. Node and Verifier are required.
func New(cfg Config) (*Server, error) {
	if cfg.Node == nil {
		return nil, errors.New("server: node required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("server: verifier required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Stream == nil {
		cfg.Stream = NewBroadcaster(0)
	}
	s := &Server{
		node:     cfg.Node,
		verifier: cfg.Verifier,
		audit:    cfg.Audit,
		stream:   cfg.Stream,
		limiter:  NewRateLimiter(cfg.RateLimit),
		faucet:   cfg.FaucetEnabled,
		maxConns: cfg.MaxConnections,
		logger:   cfg.Logger.With(slog.String("component", "api")),
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.verifier.Middleware)
		api.Use(s.limiter.Middleware)

		api.Get("/stats", s.handleStats)
		api.Get("/strategies", s.handleStrategies)
		api.Get("/breakdown", s.handleBreakdown)
		api.Get("/treasury", s.handleTreasury)
		api.Get("/accounts/{address}", s.handleAccount)
		api.Get("/events", s.handleEvents)

		api.Post("/approve", s.handleApprove)
		api.Post("/deposit", s.handleDeposit)
		api.Post("/redeem", s.handleRedeem)
		api.Post("/harvest", s.handleHarvest)
		api.Post("/swap-rewards", s.handleSwapRewards)
		api.Post("/contribute", s.handleContribute)
		api.Post("/faucet", s.handleFaucet)

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(auth.RequireRole(auth.RoleAdmin))
			admin.Put("/fee", s.handleSetFee)
			admin.Put("/strategies", s.handleSetStrategies)
			admin.Put("/recipients", s.handleSetRecipients)
			admin.Put("/slippage", s.handleSetSlippage)
			admin.Put("/path", s.handleSetPath)
			admin.Put("/routers", s.handleSetRouters)
			admin.Put("/pause", s.handleSetPause)
			admin.Get("/audit/export", s.handleAuditExport)
		})
	})
	return otelhttp.NewHandler(r, "doughd")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes WebSocket upgrades through to the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("server: response writer cannot hijack")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		observability.HTTP().Observe(route, r.Method, rec.status, time.Since(start))
	})
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully within timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener, timeout time.Duration) error {
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		s.logger.Info("doughd listening", slog.String("listen", ln.Addr().String()))
		errs <- srv.Serve(ln)
	}()
	select {
	case <-ctx.Done():
		s.stream.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
