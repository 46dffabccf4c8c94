package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"trading-control-plane/internal/events"
	"trading-control-plane/internal/tuning"
)

// RateLimiter provides simple in-memory rate limiting per client
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins string
	ReadTimeout    int
	WriteTimeout   int
	ProductionMode bool
}

// Server exposes the tiered adjustment orchestrator over HTTP.
type Server struct {
	router       *gin.Engine
	httpServer   *http.Server
	orchestrator *tuning.Orchestrator
	eventBus     *events.EventBus
	hub          *WSHub
	rateLimiter  *RateLimiter
	config       ServerConfig
	logger       zerolog.Logger
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig, orchestrator *tuning.Orchestrator, eventBus *events.EventBus, logger zerolog.Logger) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:       gin.New(),
		orchestrator: orchestrator,
		eventBus:     eventBus,
		hub:          NewWSHub(),
		rateLimiter:  NewRateLimiter(30, time.Minute),
		config:       cfg,
		logger:       logger.With().Str("component", "APIServer").Logger(),
	}

	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" || cfg.AllowedOrigins == "" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	s.router.Use(cors.New(corsConfig))

	s.registerRoutes()

	// Forward every control-plane event to connected websocket clients.
	eventBus.SubscribeAll(s.hub.BroadcastEvent)

	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	v1 := s.router.Group("/api/v1")
	v1.Use(s.rateLimit())
	{
		v1.POST("/adjust/green", s.handleAdjustGreen)
		v1.POST("/adjust/yellow", s.handleAdjustYellow)
		v1.POST("/adjust/red", s.handleAdjustRed)
		v1.POST("/rollback", s.handleRollback)
		v1.GET("/parameters", s.handleListParameters)
		v1.GET("/audit", s.handleAuditHistory)
		v1.GET("/snapshots", s.handleListSnapshots)
		v1.POST("/snapshots", s.handleTakeSnapshot)
	}
}

// Start runs the HTTP server and the websocket hub.
func (s *Server) Start() error {
	go s.hub.Run()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
	}

	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, try again later",
			})
			return
		}
		c.Next()
	}
}
