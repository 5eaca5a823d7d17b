package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vesaa/healdash/internal/healing"
	"github.com/vesaa/healdash/internal/models"
	"github.com/vesaa/healdash/internal/registry"
)

const (
	defaultLogLimit      = 100
	maxLogLimit          = 1000
	defaultWorkflowLimit = 50
)

// queryLimit reads ?limit, falling back to def and capping at ceiling.
func queryLimit(c *gin.Context, def, ceiling int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n, nil
}

// ── Services ──────────────────────────────────────────────────────────────────

func (s *Server) handleListServices(c *gin.Context) {
	services := s.Registry.GetAll()
	if services == nil {
		services = []models.Service{}
	}
	c.JSON(http.StatusOK, gin.H{"data": services})
}

type serviceBody struct {
	models.ServicePatch
	ClientID string `json:"client_id"`
}

func (s *Server) handleCreateService(c *gin.Context) {
	var body serviceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if body.Name == nil || *body.Name == "" {
		badRequest(c, errors.New("name is required"))
		return
	}
	if body.Status != nil && !body.Status.Valid() {
		badRequest(c, fmt.Errorf("unknown status %q", *body.Status))
		return
	}
	if body.ClientID != "" {
		if _, err := s.Store.GetClient(c.Request.Context(), body.ClientID); err != nil {
			respondError(c, err)
			return
		}
	}

	svc := models.Service{
		ID:       uuid.NewString(),
		ClientID: body.ClientID,
		Status:   models.StatusRunning,
	}
	body.ServicePatch.Apply(&svc)
	if err := validGauges(svc); err != nil {
		badRequest(c, err)
		return
	}
	svc = s.Registry.Add(c.Request.Context(), svc)
	c.JSON(http.StatusCreated, gin.H{"data": svc})
}

func (s *Server) handleUpdateService(c *gin.Context) {
	var p models.ServicePatch
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	if p.Status != nil && !p.Status.Valid() {
		badRequest(c, fmt.Errorf("unknown status %q", *p.Status))
		return
	}
	var invalid error
	svc, ok := s.Registry.Mutate(c.Request.Context(), c.Param("id"), func(svc *models.Service) {
		next := *svc
		p.Apply(&next)
		if invalid = validGauges(next); invalid == nil {
			*svc = next
		}
	})
	if !ok {
		respondError(c, healing.ErrServiceNotFound)
		return
	}
	if invalid != nil {
		badRequest(c, invalid)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": svc})
}

func (s *Server) handleDeleteService(c *gin.Context) {
	id := c.Param("id")
	if s.Engine.InFlight(id) {
		respondError(c, healing.ErrHealInProgress)
		return
	}
	if !s.Registry.Remove(c.Request.Context(), id) {
		respondError(c, healing.ErrServiceNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// validGauges rejects negative gauge readings.
func validGauges(s models.Service) error {
	switch {
	case s.CPUUsage < 0 || s.CPUUsage > 100:
		return errors.New("cpu_usage must be within [0,100]")
	case s.MemoryUsage < 0, s.DiskIO < 0, s.NetworkStats < 0:
		return errors.New("gauges must not be negative")
	case s.Uptime < 0, s.ErrorCount < 0:
		return errors.New("uptime and error_count must not be negative")
	}
	return nil
}

// ── Healing ───────────────────────────────────────────────────────────────────

// handleHeal runs one workflow and answers with its terminal row.
// A workflow that ended failed is reported as 500 with the row attached.
func (s *Server) handleHeal(c *gin.Context) {
	wf, err := s.Engine.Heal(c.Request.Context(), c.Param("id"))
	if wf.ID == "" {
		respondError(c, err)
		return
	}
	if wf.ResolutionStatus == models.ResolutionFailed {
		msg := "self-healing failed"
		if err != nil {
			msg = err.Error()
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg, "data": wf})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": wf})
}

// handleHealAll runs the bounded bulk heal. Nothing to heal is not an error here.
func (s *Server) handleHealAll(c *gin.Context) {
	rows, err := s.Engine.HealAll(c.Request.Context())
	if err != nil && !errors.Is(err, healing.ErrNothingToHeal) {
		respondError(c, err)
		return
	}
	if rows == nil {
		rows = []models.WorkflowHistory{}
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "processed": len(rows)})
}

// ── Logs ──────────────────────────────────────────────────────────────────────

func (s *Server) handleListLogs(c *gin.Context) {
	limit, err := queryLimit(c, defaultLogLimit, maxLogLimit)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.Logs.List(limit)})
}

// handleCreateLog appends an externally produced log entry. ERROR and
// CRITICAL entries for a service bump its error_count.
func (s *Server) handleCreateLog(c *gin.Context) {
	var body struct {
		ServiceID *string         `json:"service_id"`
		Level     models.LogLevel `json:"level" binding:"required"`
		Message   string          `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if !body.Level.Valid() {
		badRequest(c, fmt.Errorf("unknown level %q", body.Level))
		return
	}
	ctx := c.Request.Context()
	if body.ServiceID != nil && *body.ServiceID == "" {
		body.ServiceID = nil
	}
	if body.ServiceID != nil {
		if _, ok := s.Registry.Get(*body.ServiceID); !ok {
			respondError(c, healing.ErrServiceNotFound)
			return
		}
	}

	l, err := s.Logs.Append(ctx, models.ServiceLog{
		ServiceID: body.ServiceID,
		Level:     body.Level,
		Message:   body.Message,
	})
	if err != nil {
		slog.Warn("log not persisted", "component", "api", "log_id", l.ID, "error", err)
	}
	if body.ServiceID != nil && body.Level.IsError() {
		s.Registry.Mutate(ctx, *body.ServiceID, func(svc *models.Service) { svc.ErrorCount++ })
	}
	c.JSON(http.StatusCreated, gin.H{"data": l})
}

// ── Workflows ─────────────────────────────────────────────────────────────────

func (s *Server) handleListWorkflows(c *gin.Context) {
	limit, err := queryLimit(c, defaultWorkflowLimit, maxLogLimit)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.History.List(limit)})
}

// handleCreateWorkflow records a row reported by an external automation.
func (s *Server) handleCreateWorkflow(c *gin.Context) {
	var w models.WorkflowHistory
	if err := c.ShouldBindJSON(&w); err != nil {
		badRequest(c, err)
		return
	}
	if w.ProblemIdentified == "" {
		badRequest(c, errors.New("problem_identified is required"))
		return
	}
	out, err := s.History.Import(c.Request.Context(), w)
	switch {
	case errors.Is(err, registry.ErrInvalidWorkflow):
		badRequest(c, err)
		return
	case errors.Is(err, registry.ErrDuplicateWorkflow):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": out})
}

// ── Dashboard config ──────────────────────────────────────────────────────────

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.Engine.Settings(c.Request.Context())})
}

// handleSaveConfig merges the body onto the current settings and stores them.
func (s *Server) handleSaveConfig(c *gin.Context) {
	ctx := c.Request.Context()
	cfg := s.Engine.Settings(ctx)
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, err)
		return
	}
	cfg.ID = models.DashboardConfigID
	switch {
	case cfg.AlertThresholdCPU <= 0 || cfg.AlertThresholdCPU > 100:
		badRequest(c, errors.New("alert_threshold_cpu must be within (0,100]"))
		return
	case cfg.AlertThresholdMemory <= 0:
		badRequest(c, errors.New("alert_threshold_memory must be positive"))
		return
	case cfg.MonitoringInterval < 1:
		badRequest(c, errors.New("monitoring_interval must be at least 1 second"))
		return
	case cfg.SSHPort < 0 || cfg.SSHPort > 65535:
		badRequest(c, errors.New("ssh_port out of range"))
		return
	}
	cfg.UpdatedAt = time.Now().UTC()
	if err := s.Store.SaveDashboardConfig(ctx, &cfg); err != nil {
		respondError(c, err)
		return
	}
	slog.Info("dashboard config saved", "component", "api",
		"auto_healing", cfg.AutoHealingEnabled, "webhook_enabled", cfg.WebhookEnabled)
	c.JSON(http.StatusOK, gin.H{"data": cfg})
}

// ── Alerts ────────────────────────────────────────────────────────────────────

func (s *Server) handleListAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.Alerts.List()})
}

func (s *Server) handleDismissAlert(c *gin.Context) {
	id := c.Param("id")
	if !s.Alerts.Dismiss(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dismissed": id})
}
