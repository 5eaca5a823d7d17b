package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vesaa/healdash/internal/healing"
	"github.com/vesaa/healdash/internal/models"
	"github.com/vesaa/healdash/internal/store"
)

// Service webhook actions.
const (
	actionStart   = "start"
	actionStop    = "stop"
	actionTrigger = "trigger"
)

// webhookTarget picks the URL configured for action on svc.
func webhookTarget(svc models.Service, action string) (url string, enabled bool, err error) {
	switch action {
	case actionStart:
		return svc.StartWebhookURL, svc.StartWebhookEnabled, nil
	case actionStop:
		return svc.StopWebhookURL, svc.StopWebhookEnabled, nil
	case actionTrigger:
		return svc.WebhookURL, svc.WebhookEnabled, nil
	default:
		return "", false, fmt.Errorf("unknown webhook action %q (use start, stop or trigger)", action)
	}
}

// handleServiceWebhook fires a service's start, stop or generic webhook.
// Every attempt lands in the service's log; a successful start or stop
// moves the service to Running or Stopped.
//
//	POST /api/monitoring/services/:id/webhook/:action
func (s *Server) handleServiceWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	action := c.Param("action")
	svc, ok := s.Registry.Get(c.Param("id"))
	if !ok {
		respondError(c, healing.ErrServiceNotFound)
		return
	}
	url, enabled, err := webhookTarget(svc, action)
	if err != nil {
		badRequest(c, err)
		return
	}
	if url == "" || !enabled {
		badRequest(c, fmt.Errorf("%s webhook is not configured or disabled for %s", action, svc.Name))
		return
	}
	if s.Hooks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhooks are not available"})
		return
	}

	name := svc.DisplayName
	if name == "" {
		name = svc.Name
	}
	tries := s.Hooks.MaxAttempts()
	s.record(c, svc.ID, models.LevelInfo,
		fmt.Sprintf("Server-side webhook trigger started for %s to %s", name, url))

	succeeded := 0
	err = s.Hooks.Trigger(ctx, url, func(attempt int, err error) {
		s.record(c, svc.ID, models.LevelInfo,
			fmt.Sprintf("Webhook GET request attempt %d/%d to %s", attempt, tries, url))
		if err != nil {
			s.record(c, svc.ID, models.LevelWarning,
				fmt.Sprintf("Webhook attempt %d/%d failed: %v", attempt, tries, err))
			return
		}
		succeeded = attempt
		s.record(c, svc.ID, models.LevelInfo,
			fmt.Sprintf("Webhook successfully executed on attempt %d - %s %s command sent", attempt, name, action))
	})
	if err != nil {
		s.record(c, svc.ID, models.LevelError, fmt.Sprintf("Webhook trigger for %s failed: %v", name, err))
		s.Alerts.Push(models.AlertError, "Webhook Failed", fmt.Sprintf("%s webhook for %s failed", action, name))
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}

	switch action {
	case actionStart:
		svc, _ = s.Registry.Mutate(ctx, svc.ID, func(x *models.Service) {
			x.Status = models.StatusRunning
			x.LastRestart = time.Now().UTC()
		})
	case actionStop:
		svc, _ = s.Registry.Mutate(ctx, svc.ID, func(x *models.Service) {
			x.Status = models.StatusStopped
		})
	}
	s.Alerts.Push(models.AlertSuccess, "Webhook Executed", fmt.Sprintf("%s webhook for %s executed", action, name))
	c.JSON(http.StatusOK, gin.H{"success": true, "attempt": succeeded, "data": svc})
}

// record writes a service log; persistence failures are only reported.
func (s *Server) record(c *gin.Context, serviceID string, level models.LogLevel, msg string) {
	if _, err := s.Logs.Record(c.Request.Context(), serviceID, level, msg); err != nil {
		slog.Warn("log not persisted", "component", "api", "service_id", serviceID, "error", err)
	}
}

// ── Webhook config ────────────────────────────────────────────────────────────

// handleGetWebhookConfig returns the stored config, or an empty object.
func (s *Server) handleGetWebhookConfig(c *gin.Context) {
	cfg, err := s.Store.GetWebhookConfig(c.Request.Context(), c.Param("serviceId"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{}})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cfg})
}

// handleSaveWebhookConfig merges the body onto the stored config and mirrors
// the result onto the service's webhook fields.
func (s *Server) handleSaveWebhookConfig(c *gin.Context) {
	ctx := c.Request.Context()
	serviceID := c.Param("serviceId")
	if _, ok := s.Registry.Get(serviceID); !ok {
		respondError(c, healing.ErrServiceNotFound)
		return
	}

	cfg, err := s.Store.GetWebhookConfig(ctx, serviceID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		cfg = &models.WebhookConfig{}
	case err != nil:
		respondError(c, err)
		return
	}
	if err := c.ShouldBindJSON(cfg); err != nil {
		badRequest(c, err)
		return
	}
	cfg.ServiceID = serviceID
	cfg.UpdatedAt = time.Now().UTC()
	if err := s.Store.SaveWebhookConfig(ctx, cfg); err != nil {
		respondError(c, err)
		return
	}
	svc, _ := s.Registry.Patch(ctx, serviceID, cfg.Patch())
	c.JSON(http.StatusOK, gin.H{"success": true, "data": cfg, "service": svc})
}
