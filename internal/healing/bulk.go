package healing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vesaa/healdash/internal/models"
)

// Candidates returns up to limit services that qualify for healing and have
// no running workflow, in registry order.
func (e *Engine) Candidates(ctx context.Context, limit int) []models.Service {
	th := e.Thresholds(e.Settings(ctx))
	var out []models.Service
	for _, s := range e.deps.Registry.GetAll() {
		if limit > 0 && len(out) >= limit {
			break
		}
		if Diagnose(s, th).Any() && !e.InFlight(s.ID) {
			out = append(out, s)
		}
	}
	return out
}

// HealAll heals at most BulkLimit qualifying services, one after the other.
// Services that stopped qualifying or got picked up by another caller in the
// meantime are skipped. It returns the rows of the workflows it ran.
func (e *Engine) HealAll(ctx context.Context) ([]models.WorkflowHistory, error) {
	batch := e.Candidates(ctx, e.cfg.BulkLimit)
	if len(batch) == 0 {
		return nil, ErrNothingToHeal
	}
	slog.Info("bulk heal", "component", "healing", "services", len(batch))

	var rows []models.WorkflowHistory
	for _, s := range batch {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		wf, err := e.Heal(ctx, s.ID)
		if wf.ID != "" {
			rows = append(rows, wf)
			continue
		}
		if errors.Is(err, ErrNothingToHeal) || errors.Is(err, ErrHealInProgress) || errors.Is(err, ErrServiceNotFound) {
			continue
		}
		slog.Warn("bulk heal: workflow not started", "component", "healing", "service_id", s.ID, "error", err)
	}
	return rows, nil
}

// RunAuto runs HealAll every monitoring_interval seconds while the dashboard
// config has auto healing enabled. The interval is re-read every round.
func (e *Engine) RunAuto(ctx context.Context) {
	slog.Info("auto-heal loop started", "component", "healing")
	for {
		settings := e.Settings(ctx)
		interval := time.Duration(settings.MonitoringInterval) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		if !e.Settings(ctx).AutoHealingEnabled {
			continue
		}
		rows, err := e.HealAll(ctx)
		if err != nil && !errors.Is(err, ErrNothingToHeal) {
			slog.Warn("auto-heal round ended early", "component", "healing", "error", err)
			continue
		}
		if len(rows) > 0 {
			slog.Info("auto-heal round", "component", "healing", "workflows", len(rows))
		}
	}
}
