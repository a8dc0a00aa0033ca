package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/0xmhha/checko-go/internal/logger"
	bridgemw "github.com/0xmhha/checko-go/pkg/bridge/middleware"
)

// SubscriptionStats reports topic registry counters on the health endpoint
type SubscriptionStats interface {
	Count() int
	Stats() (events, deliveries, unmatched uint64)
}

// Server exposes the hub over HTTP
type Server struct {
	config        *Config
	logger        *zap.Logger
	hub           *Hub
	subscriptions SubscriptionStats
	gatherer      prometheus.Gatherer
	router        *chi.Mux
	server        *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithGatherer serves the registry's metrics on /metrics
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// WithSubscriptionStats includes registry counters in health responses
func WithSubscriptionStats(stats SubscriptionStats) ServerOption {
	return func(s *Server) { s.subscriptions = stats }
}

// NewServer creates a bridge server
func NewServer(cfg *Config, hub *Hub, log *zap.Logger, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if hub == nil {
		return nil, errors.New("hub cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config: cfg,
		logger: logger.WithComponent(logger.OrNop(log), "bridge-server"),
		hub:    hub,
		router: chi.NewRouter(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(bridgemw.Recovery(s.logger))
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(bridgemw.Logger(s.logger))

	if s.config.RateLimitPerSecond > 0 {
		limiter := bridgemw.NewRateLimiter(s.ctx, s.config.RateLimitPerSecond, s.config.RateLimitBurst)
		s.router.Use(bridgemw.RateLimit(limiter, s.logger))
		s.logger.Info("rate limiting enabled",
			zap.Float64("rate_per_second", s.config.RateLimitPerSecond),
			zap.Int("burst", s.config.RateLimitBurst),
		)
	}

	if s.config.EnableCORS {
		s.router.Use(bridgemw.CORS(s.config.AllowedOrigins))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get(s.config.PagePath, s.hub.ServePage)
	s.router.Get(s.config.UIPath, s.hub.ServeUI)
	s.router.Post(s.config.RPCPath, s.hub.ServeRPC)
	s.router.Get("/health", s.handleHealth)

	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status        string             `json:"status"`
	Timestamp     string             `json:"timestamp"`
	Pages         int                `json:"pages"`
	UIs           int                `json:"uis"`
	Subscriptions *SubscriptionsInfo `json:"subscriptions,omitempty"`
}

// SubscriptionsInfo summarizes the topic registry
type SubscriptionsInfo struct {
	Active     int    `json:"active"`
	Events     uint64 `json:"events"`
	Deliveries uint64 `json:"deliveries"`
	Unmatched  uint64 `json:"unmatched"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Pages:     s.hub.PeerCount(RolePage),
		UIs:       s.hub.PeerCount(RoleUI),
	}
	if s.subscriptions != nil {
		events, deliveries, unmatched := s.subscriptions.Stats()
		response.Subscriptions = &SubscriptionsInfo{
			Active:     s.subscriptions.Count(),
			Events:     events,
			Deliveries: deliveries,
			Unmatched:  unmatched,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// Router returns the HTTP handler of the server
func (s *Server) Router() http.Handler {
	return s.router
}

// Start listens and serves until Stop is called
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address(), err)
	}

	s.logger.Info("starting bridge server",
		zap.String("address", ln.Addr().String()),
		zap.String("page_path", s.config.PagePath),
		zap.String("ui_path", s.config.UIPath),
		zap.String("rpc_path", s.config.RPCPath),
	)

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping bridge server")
	defer s.cancel()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.logger.Info("bridge server stopped")
	return nil
}
