package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/topicmesh/internal/broker"
)

const topicsPrefix = "/api/v1/topics/"

// Server represents the HTTP API server
type Server struct {
	broker     *broker.Broker
	config     *Config
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	logger     *zap.Logger
}

// NewServer creates a new HTTP API server in front of b
func NewServer(b *broker.Broker, config *Config) (*Server, error) {
	if b == nil {
		return nil, fmt.Errorf("broker cannot be nil")
	}
	if config == nil {
		config = NewConfig()
	}

	configCopy := *config
	configCopy.SetDefaults()
	if err := configCopy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := configCopy.Logger.Named("httpapi")
	configCopy.Logger = logger
	if configCopy.SecretKey == DefaultSecretKey {
		logger.Warn("using the default token secret, set a secret key in production")
	}

	jwtAuth := NewJWTAuth(configCopy.SecretKey, configCopy.TokenTTL)
	server := &Server{
		broker:     b,
		config:     &configCopy,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(b, jwtAuth, &configCopy),
		middleware: NewMiddleware(jwtAuth, configCopy.NoAuth, logger),
		logger:     logger,
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	server.server = &http.Server{
		Addr:              configCopy.ListenAddress,
		Handler:           server.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// no WriteTimeout: message streams stay open
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		BaseContext:    func(net.Listener) context.Context { return baseCtx },
		ErrorLog:       zap.NewStdLog(logger),
	}
	// ends open streams so Shutdown does not wait on them
	server.server.RegisterOnShutdown(cancel)

	return server, nil
}

// Handler returns the root handler with all routes
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(lis)
}

// Serve serves requests on lis until Stop
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("http api listening", zap.String("address", lis.Addr().String()))
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Apply global middleware
	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}
	auth := s.middleware.AuthRequired
	admin := s.middleware.AdminRequired

	// Authentication endpoints (no auth required)
	mux.Handle("/api/v1/auth/login", withMiddleware(allow(http.MethodPost, s.handlers.Login)))

	// Message endpoints
	mux.Handle("/api/v1/messages", withMiddleware(auth(allow(http.MethodPost, s.handlers.PublishMessage))))
	mux.Handle("/api/v1/messages/stream", withMiddleware(auth(allow(http.MethodGet, s.handlers.StreamMessages))))

	// Subscription endpoints
	mux.Handle("/api/v1/subscriptions", withMiddleware(auth(s.handleSubscriptions)))

	// Topic endpoints
	mux.Handle("/api/v1/topics", withMiddleware(auth(allow(http.MethodGet, s.handlers.ListTopics))))
	mux.Handle(topicsPrefix, withMiddleware(auth(s.handleTopicMessages)))

	// Admin endpoints (admin auth required)
	mux.Handle("/api/v1/admin/clients", withMiddleware(admin(allow(http.MethodGet, s.handlers.AdminListClients))))
	mux.Handle("/api/v1/admin/filters", withMiddleware(admin(allow(http.MethodGet, s.handlers.AdminListFilters))))
	mux.Handle("/api/v1/admin/stats", withMiddleware(admin(allow(http.MethodGet, s.handlers.AdminGetStats))))

	// Health endpoint (no auth required)
	mux.Handle("/api/v1/health", withMiddleware(allow(http.MethodGet, s.handlers.Health)))

	if s.config.Gatherer != nil {
		metrics := promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})
		mux.Handle("/metrics", s.middleware.Recovery(s.middleware.Logging(metrics.ServeHTTP)))
	}

	// Root endpoint with API info
	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// handleSubscriptions routes subscription requests based on HTTP method
func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handlers.ListSubscriptions(w, r)
	case http.MethodPost:
		s.handlers.CreateSubscription(w, r)
	case http.MethodDelete:
		s.handlers.DeleteSubscriptions(w, r)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTopicMessages parses /api/v1/topics/{topic}/messages. The topic
// may itself contain separators.
func (s *Server) handleTopicMessages(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, topicsPrefix)
	topicName, ok := strings.CutSuffix(rest, "/messages")
	if !ok {
		writeError(w, "Invalid path, expected /api/v1/topics/{topic}/messages", http.StatusNotFound)
		return
	}
	if topicName == "" {
		writeError(w, "Topic name required", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := context.WithValue(r.Context(), TopicKey, topicName)
	s.handlers.ReadTopicMessages(w, r.WithContext(ctx))
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]any{
		"service":     "topicmesh HTTP API",
		"nodeId":      s.broker.NodeID(),
		"description": "Topic filter pub/sub over HTTP with server-sent event streams",
		"endpoints": map[string]any{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"messages": map[string]string{
				"publish": "POST /api/v1/messages",
				"stream":  "GET /api/v1/messages/stream?filter={filter}",
			},
			"subscriptions": map[string]string{
				"list":   "GET /api/v1/subscriptions",
				"create": "POST /api/v1/subscriptions",
				"delete": "DELETE /api/v1/subscriptions?filter={filter}",
			},
			"topics": map[string]string{
				"list": "GET /api/v1/topics",
				"read": "GET /api/v1/topics/{topic}/messages?offset={offset}&limit={limit}",
			},
			"admin": map[string]string{
				"clients": "GET /api/v1/admin/clients",
				"filters": "GET /api/v1/admin/filters",
				"stats":   "GET /api/v1/admin/stats",
			},
			"health":  "GET /api/v1/health",
			"metrics": "GET /metrics",
		},
		"authentication": "Bearer JWT token required for most endpoints",
	}

	writeJSON(w, info, http.StatusOK)
}

// allow rejects requests whose method is not method
func allow(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}
