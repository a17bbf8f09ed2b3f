package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/khryptorgraphics/a2a-memory-core/internal/config"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/auth"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/memory"
)

// Server is the REST/WebSocket surface over a memory.Manager (spec §6
// "External interfaces"): put/get/delete/merge on keys, topology/shard/
// metrics status, agent login, and a live event feed.
type Server struct {
	config      *config.Config
	manager     *memory.Manager
	jwtSvc      *auth.JWTService
	registry    *auth.Registry
	mw          *auth.Middleware
	logger      *slog.Logger
	server      *http.Server
	websocket   *WebSocketHub
	metricsHTTP http.Handler
}

// NewServer wires a JWT service and agent registry around manager and
// returns a ready-to-start Server. metricsHandler is injected (rather than
// imported directly) so pkg/api never needs to know which metrics backend
// cmd chose to wire in.
func NewServer(cfg *config.Config, manager *memory.Manager, registry *auth.Registry, metricsHandler http.Handler, logger *slog.Logger) (*Server, error) {
	jwtSvc, err := auth.NewJWTService(&cfg.JWT)
	if err != nil {
		return nil, fmt.Errorf("create jwt service: %w", err)
	}

	s := &Server{
		config:      cfg,
		manager:     manager,
		jwtSvc:      jwtSvc,
		registry:    registry,
		mw:          auth.NewMiddleware(jwtSvc, registry),
		logger:      logger,
		websocket:   NewWebSocketHub(logger),
		metricsHTTP: metricsHandler,
	}
	return s, nil
}

// WebSocketHub exposes the hub so cmd can fan manager metric events into it
// alongside the Prometheus sink (pkg/metrics.Fanout).
func (s *Server) WebSocketHub() *WebSocketHub { return s.websocket }

// Start starts the API server; blocks until Stop or a fatal listener error.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRouter()

	s.server = &http.Server{
		Addr:         s.config.API.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.websocket.Run()

	s.logger.Info("starting API server",
		"address", s.config.API.ListenAddr,
		"tls_enabled", s.config.API.TLSEnabled)

	if s.config.API.TLSEnabled {
		return s.server.ListenAndServeTLS(s.config.API.CertFile, s.config.API.KeyFile)
	}
	return s.server.ListenAndServe()
}

// Stop gracefully stops the API server and the WebSocket hub.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")
	s.websocket.Stop()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRouter() *gin.Engine {
	if s.logger.Enabled(context.Background(), slog.LevelDebug) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(s.loggingMiddleware())
	router.Use(gin.Recovery())
	router.Use(s.corsMiddleware())
	router.Use(s.securityMiddleware())
	router.Use(s.versionMiddleware())
	router.Use(s.requestSizeMiddleware())
	router.Use(s.contentTypeMiddleware())
	router.Use(s.compressionMiddleware())

	if s.config.API.RateLimit.Enabled {
		router.Use(s.rateLimitMiddleware())
	}

	router.GET("/health", s.healthHandler)
	router.GET("/metrics", s.metricsHandler)

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", s.loginHandler)
			authGroup.POST("/refresh", s.refreshHandler)
		}

		protected := v1.Group("/")
		protected.Use(s.mw.RequireAuth())
		{
			mem := protected.Group("/memory")
			{
				mem.PUT("/:key", s.putHandler)
				mem.GET("/:key", s.getHandler)
				mem.DELETE("/:key", s.deleteHandler)
				mem.POST("/:key/merge", s.mergeHandler)
			}
			protected.GET("/status", s.statusHandler)
		}
	}

	router.GET("/ws", s.websocketHandler)

	return router
}
