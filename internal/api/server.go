package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/xuecangming/folder-copy/internal/api/handlers"
	"github.com/xuecangming/folder-copy/internal/api/middleware"
	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/core/logger"
)

// Server represents the HTTP server
type Server struct {
	config               *types.Config
	router               *mux.Router
	logger               logger.Logger
	healthHandler        *handlers.HealthHandler
	copyOperationHandler *handlers.CopyOperationHandler
}

// NewServer creates a new HTTP server
func NewServer(config *types.Config, health handlers.HealthOptions, copyOps handlers.CopyOperations, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	server := &Server{
		config:               config,
		router:               mux.NewRouter(),
		logger:               log,
		healthHandler:        handlers.NewHealthHandler(health),
		copyOperationHandler: handlers.NewCopyOperationHandler(copyOps),
	}

	server.setupRoutes()

	return server
}

// Router returns the HTTP router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes sets up the HTTP routes
func (s *Server) setupRoutes() {
	// Apply global middleware
	s.router.Use(middleware.CORSMiddleware)
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(middleware.RecoveryMiddleware)

	api := s.router.PathPrefix(s.config.Server.APIPrefix).Subrouter()
	if s.config.Server.RateLimit > 0 {
		api.Use(middleware.RateLimitMiddleware(s.config.Server.RateLimit, time.Second))
	}

	// Health check and readiness endpoints
	api.HandleFunc("/health", s.healthHandler.Health).Methods("GET", "OPTIONS")
	api.HandleFunc("/info", s.healthHandler.Info).Methods("GET", "OPTIONS")
	api.HandleFunc("/ready", s.healthHandler.Ready).Methods("GET", "OPTIONS")
	api.HandleFunc("/live", s.healthHandler.Live).Methods("GET", "OPTIONS")

	// Copy operation routes
	api.HandleFunc("/copy-operations", s.copyOperationHandler.Start).Methods("POST", "OPTIONS")
	api.HandleFunc("/copy-operations/{id}", s.copyOperationHandler.GetStatus).Methods("GET", "OPTIONS")

	// Root endpoint - API info
	s.router.HandleFunc("/", s.healthHandler.Info).Methods("GET", "OPTIONS")
}
