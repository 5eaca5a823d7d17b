// Package server provides the healdash Gin-based REST API.
// Routes are split into two groups:
//   - Control-plane (port 6677): JWT-protected; serves the dashboard, its API and the live feed.
//   - Data-plane   (port 1616): Bearer-token-protected; receives agent reports.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vesaa/healdash/internal/config"
	"github.com/vesaa/healdash/internal/feed"
	"github.com/vesaa/healdash/internal/healing"
	"github.com/vesaa/healdash/internal/models"
	"github.com/vesaa/healdash/internal/notify"
	"github.com/vesaa/healdash/internal/registry"
	"github.com/vesaa/healdash/internal/store"
)

// Exporter mirrors ingested host samples into a time-series database.
type Exporter interface {
	WriteSystemMetrics(ctx context.Context, m models.SystemMetrics) error
}

// Deps are the collaborators a Server routes to. Exporter and Prober may be nil.
type Deps struct {
	Config   *config.Config
	Store    store.Client
	Registry *registry.Registry
	Logs     *registry.LogSink
	History  *registry.History
	Alerts   *registry.Alerts
	Engine   *healing.Engine
	Hooks    *notify.WebhookNotifier
	Hub      *feed.Hub
	Exporter Exporter
	Prober   SSHProber
}

// Server owns both HTTP planes.
type Server struct {
	Deps
	jwtSecret  []byte
	agentToken string
	upgrader   websocket.Upgrader
}

// New builds a Server. A nil Prober falls back to the x/crypto/ssh dialer.
func New(d Deps) *Server {
	if d.Prober == nil {
		d.Prober = NewSSHProber(d.Config.SSHUser, d.Config.SSHKeyPath)
	}
	return &Server{
		Deps:       d,
		jwtSecret:  []byte(d.Config.JWTSecret),
		agentToken: d.Config.AgentToken,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ControlHandler builds the engine bound to port 6677.
//
//	Public:   POST /api/login, GET /health, GET /api/health, GET /metrics
//	Protected (JWT when auth_enabled): every other /api/* route
func (s *Server) ControlHandler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// ── Public endpoints ──────────────────────────────────────────────────────
	api.POST("/login", s.handleLogin)
	api.GET("/health", handleHealth)

	// ── Protected endpoints ───────────────────────────────────────────────────
	auth := api.Group("/")
	if s.Config.AuthEnabled {
		auth.Use(s.JWTMiddleware())
	}
	{
		auth.GET("/clients", s.handleListClients)
		auth.POST("/clients", s.handleCreateClient)
		auth.GET("/clients/:id", s.handleGetClient)
		auth.PUT("/clients/:id", s.handleUpdateClient)
		auth.DELETE("/clients/:id", s.handleDeleteClient)
		auth.GET("/clients/:id/services", s.handleClientServices)
		auth.GET("/clients/:id/metrics", s.handleClientMetrics)

		mon := auth.Group("/monitoring")
		mon.GET("/services", s.handleListServices)
		mon.POST("/services", s.handleCreateService)
		mon.PUT("/services/:id", s.handleUpdateService)
		mon.DELETE("/services/:id", s.handleDeleteService)
		mon.POST("/services/:id/heal", s.handleHeal)
		mon.POST("/services/:id/webhook/:action", s.handleServiceWebhook)
		mon.POST("/heal", s.handleHealAll)

		mon.GET("/logs", s.handleListLogs)
		mon.POST("/logs", s.handleCreateLog)
		mon.GET("/workflows", s.handleListWorkflows)
		mon.POST("/workflows", s.handleCreateWorkflow)

		mon.GET("/config", s.handleGetConfig)
		mon.POST("/config", s.handleSaveConfig)
		mon.POST("/config/ssh/test", s.handleSSHTest)
		mon.GET("/webhooks/config/:serviceId", s.handleGetWebhookConfig)
		mon.POST("/webhooks/config/:serviceId", s.handleSaveWebhookConfig)

		mon.POST("/data", s.handleIngestData)
		mon.GET("/data/latest", s.handleLatestData)

		mon.GET("/alerts", s.handleListAlerts)
		mon.DELETE("/alerts/:id", s.handleDismissAlert)

		mon.GET("/stream", s.handleStream)
	}

	RegisterStaticFiles(r)
	return r
}

// DataHandler builds the engine bound to port 1616.
// All /api routes require a valid Bearer agent token.
func (s *Server) DataHandler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	api := r.Group("/api", s.AgentTokenMiddleware())
	{
		api.POST("/monitoring/data", s.handleAgentReport)
	}

	// Data-plane health (no auth, used by load-balancers / k8s probes)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

// ── Handlers ──────────────────────────────────────────────────────────────────

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

// handleLogin accepts username + password and returns a signed JWT.
//
//	POST /api/login
//	Body: { "username": "admin", "password": "admin" }
func (s *Server) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	if body.Username != s.Config.AdminUser || body.Password != s.Config.AdminPass {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.GenerateJWT(body.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
		"type":       "Bearer",
	})
}

// ── helpers ───────────────────────────────────────────────────────────────────

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, healing.ErrServiceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, healing.ErrHealInProgress), errors.Is(err, healing.ErrNothingToHeal):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrTerminal):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/metrics" {
			return
		}
		slog.Debug("request",
			"component", "api",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
