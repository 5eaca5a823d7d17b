package healing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/vesaa/healdash/internal/config"
	"github.com/vesaa/healdash/internal/models"
	"github.com/vesaa/healdash/internal/notify"
	"github.com/vesaa/healdash/internal/registry"
	"github.com/vesaa/healdash/internal/store"
)

var (
	// ErrServiceNotFound is returned for unknown service ids, and when a
	// service disappears before remediation is applied.
	ErrServiceNotFound = errors.New("healing: service not found")
	// ErrNothingToHeal is returned when no condition holds.
	ErrNothingToHeal = errors.New("healing: service does not need healing")
	// ErrHealInProgress is returned when the service already has a running workflow.
	ErrHealInProgress = errors.New("healing: workflow already running for service")
	// ErrPanic wraps a recovered panic inside a workflow.
	ErrPanic = errors.New("healing: workflow panicked")
)

// ConfigSource supplies the dashboard config read at trigger time.
type ConfigSource interface {
	GetDashboardConfig(ctx context.Context) (*models.DashboardConfig, error)
}

// Deps are the collaborators of an Engine. Notifier and Config may be nil.
type Deps struct {
	Registry *registry.Registry
	Logs     *registry.LogSink
	History  *registry.History
	Alerts   *registry.Alerts
	Notifier notify.Notifier
	Config   ConfigSource
	// Defaults stand in when Config is nil or has no row yet.
	Defaults models.DashboardConfig
	// NotifyTimeout bounds the whole notification, retries included.
	NotifyTimeout time.Duration
	Rand          *rand.Rand
}

// Engine runs self-healing workflows.
type Engine struct {
	deps Deps
	cfg  config.HealingConfig

	rngMu sync.Mutex
	rng   *rand.Rand

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New builds an Engine.
func New(deps Deps, cfg config.HealingConfig) *Engine {
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.BulkLimit < 1 {
		cfg.BulkLimit = 3
	}
	return &Engine{deps: deps, cfg: cfg, rng: rng, inflight: make(map[string]struct{})}
}

// Settings returns the current dashboard config, falling back to defaults.
func (e *Engine) Settings(ctx context.Context) models.DashboardConfig {
	if e.deps.Config == nil {
		return e.deps.Defaults
	}
	c, err := e.deps.Config.GetDashboardConfig(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("reading dashboard config failed, using defaults", "component", "healing", "error", err)
		}
		return e.deps.Defaults
	}
	return *c
}

// Thresholds derives the trigger thresholds from settings.
func (e *Engine) Thresholds(settings models.DashboardConfig) Thresholds {
	th := DefaultThresholds()
	if settings.AlertThresholdCPU > 0 {
		th.CPU = settings.AlertThresholdCPU
	}
	if settings.AlertThresholdMemory > 0 {
		th.Memory = settings.AlertThresholdMemory
	}
	if e.cfg.ErrorThreshold > 0 {
		th.Errors = e.cfg.ErrorThreshold
	}
	return th
}

// InFlight reports whether id has a running workflow.
func (e *Engine) InFlight(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[id]
	return ok
}

func (e *Engine) acquire(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[id]; busy {
		return false
	}
	e.inflight[id] = struct{}{}
	workflowsInFlight.Inc()
	return true
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
	workflowsInFlight.Dec()
}

// Heal runs one workflow for service id and returns its terminal row.
//
// Once the in_progress row exists, every exit path finalizes it: an error,
// a panic or a cancelled ctx all end in a failed row plus an error alert.
func (e *Engine) Heal(ctx context.Context, id string) (models.WorkflowHistory, error) {
	svc, ok := e.deps.Registry.Get(id)
	if !ok {
		return models.WorkflowHistory{}, ErrServiceNotFound
	}
	settings := e.Settings(ctx)
	diag := Diagnose(svc, e.Thresholds(settings))
	if !diag.Any() {
		return models.WorkflowHistory{}, ErrNothingToHeal
	}
	if !e.acquire(id) {
		return models.WorkflowHistory{}, ErrHealInProgress
	}
	defer e.release(id)

	return e.run(ctx, svc, diag, settings)
}

func (e *Engine) run(ctx context.Context, svc models.Service, diag Diagnosis, settings models.DashboardConfig) (out models.WorkflowHistory, err error) {
	name := displayName(svc)

	wf, err := e.deps.History.Start(ctx, svc.ID, diag.Problem)
	if err != nil {
		e.deps.Alerts.Push(models.AlertError, "Self-Healing Failed",
			fmt.Sprintf("Failed to heal %s. Please check manually.", name))
		workflowsTotal.WithLabelValues("not_started").Inc()
		return models.WorkflowHistory{}, err
	}
	started := time.Now()
	e.log(ctx, svc.ID, models.LevelInfo, fmt.Sprintf("Self-Healing Started for %s: %s", name, diag.Problem))
	e.deps.Alerts.Push(models.AlertInfo, "Self-Healing Started", fmt.Sprintf("Analyzing and fixing %s...", name))
	slog.Info("workflow started", "component", "healing", "workflow_id", wf.ID, "service", svc.Name, "problem", diag.Problem)

	var commands []string
	finished := false
	defer func() {
		if r := recover(); r != nil {
			slog.Error("workflow panicked", "component", "healing", "workflow_id", wf.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		if finished {
			return
		}
		if err == nil {
			err = errors.New("workflow ended without a result")
		}
		out = e.fail(ctx, wf, svc, commands, err)
		workflowDuration.Observe(time.Since(started).Seconds())
	}()

	e.notify(ctx, svc, diag, settings)

	if err := sleep(ctx, e.cfg.RemediationDelay); err != nil {
		return models.WorkflowHistory{}, fmt.Errorf("waiting for remediation: %w", err)
	}

	commands, err = e.remediate(ctx, svc, diag)
	if err != nil {
		return models.WorkflowHistory{}, err
	}

	fctx := context.WithoutCancel(ctx)
	out, err = e.deps.History.Finish(fctx, wf.ID, models.ResolutionSuccess, commands)
	switch {
	case errors.Is(err, registry.ErrTerminal), errors.Is(err, registry.ErrUnknownWorkflow):
		return models.WorkflowHistory{}, err
	case err != nil:
		// terminal in memory, only the write-through failed
		slog.Error("workflow result not persisted", "component", "healing", "workflow_id", wf.ID, "error", err)
	}
	finished = true
	workflowsTotal.WithLabelValues(string(models.ResolutionSuccess)).Inc()
	workflowDuration.Observe(time.Since(started).Seconds())

	e.log(fctx, svc.ID, models.LevelInfo,
		fmt.Sprintf("Self-healing completed successfully. Executed %d remediation commands.", len(commands)))
	e.deps.Alerts.Push(models.AlertSuccess, "Self-Healing Complete",
		fmt.Sprintf("%s has been restored to healthy state", name))
	slog.Info("workflow finished", "component", "healing", "workflow_id", wf.ID, "commands", len(commands))
	return out, nil
}

// fail finalizes wf as failed. It runs on a context that ignores
// cancellation so an abandoned request still leaves a terminal row.
func (e *Engine) fail(ctx context.Context, wf models.WorkflowHistory, svc models.Service, commands []string, cause error) models.WorkflowHistory {
	fctx := context.WithoutCancel(ctx)
	out, err := e.deps.History.Finish(fctx, wf.ID, models.ResolutionFailed, commands)
	if err != nil {
		slog.Error("finalizing failed workflow", "component", "healing", "workflow_id", wf.ID, "error", err)
		if got, ok := e.deps.History.Get(wf.ID); ok {
			out = got
		}
	}
	workflowsTotal.WithLabelValues(string(models.ResolutionFailed)).Inc()

	name := displayName(svc)
	e.log(fctx, svc.ID, models.LevelError, fmt.Sprintf("Self-healing failed for %s: %v", name, cause))
	e.deps.Alerts.Push(models.AlertError, "Self-Healing Failed",
		fmt.Sprintf("Failed to heal %s. Please check manually.", name))
	slog.Warn("workflow failed", "component", "healing", "workflow_id", wf.ID, "error", cause)
	return out
}

// notify calls the configured webhook. Its outcome only produces a log line.
func (e *Engine) notify(ctx context.Context, svc models.Service, diag Diagnosis, settings models.DashboardConfig) {
	if e.deps.Notifier == nil || !settings.WebhookEnabled || settings.WebhookURL == "" {
		return
	}
	nctx := ctx
	if e.deps.NotifyTimeout > 0 {
		var cancel context.CancelFunc
		nctx, cancel = context.WithTimeout(ctx, e.deps.NotifyTimeout)
		defer cancel()
	}
	err := e.deps.Notifier.Notify(nctx, settings.WebhookURL, notify.Payload{
		ServiceName: svc.Name,
		DisplayName: svc.DisplayName,
		Status:      string(svc.Status),
		ErrorLogs:   diag.Problem,
		SystemMetrics: notify.SystemMetrics{
			CPU:    svc.CPUUsage,
			Memory: svc.MemoryUsage,
			Uptime: svc.Uptime,
		},
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		webhookTotal.WithLabelValues("error").Inc()
		e.log(ctx, svc.ID, models.LevelWarning, fmt.Sprintf("Webhook notification failed: %v", err))
		return
	}
	webhookTotal.WithLabelValues("ok").Inc()
	e.log(ctx, svc.ID, models.LevelInfo, "Webhook notification sent to "+settings.WebhookURL)
}

// remediate applies every branch that diag calls for. Branches are
// independent: a failed log write never skips a later registry update.
func (e *Engine) remediate(ctx context.Context, svc models.Service, diag Diagnosis) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	commands := []string{}
	apply := func(fn func(*models.Service), cmds ...string) error {
		if _, ok := e.deps.Registry.Mutate(ctx, svc.ID, fn); !ok {
			return fmt.Errorf("%w: %s removed during remediation", ErrServiceNotFound, svc.ID)
		}
		commands = append(commands, cmds...)
		for _, c := range cmds {
			e.log(ctx, svc.ID, models.LevelInfo, "Executed: "+c)
		}
		return nil
	}

	if diag.NotRunning {
		now := time.Now().UTC()
		err := apply(func(s *models.Service) {
			s.Status = models.StatusRunning
			s.LastRestart = now
			s.ErrorCount = 0
			s.Uptime = 0
		}, restartCommands(svc.Name)...)
		if err != nil {
			return commands, err
		}
	}
	if diag.HighCPU {
		cpu := e.uniform(30, 50)
		if err := apply(func(s *models.Service) { s.CPUUsage = cpu }, reniceCommand(svc.Name)); err != nil {
			return commands, err
		}
	}
	if diag.HighMemory {
		mem := e.uniform(200, 500)
		if err := apply(func(s *models.Service) { s.MemoryUsage = mem }, memoryRestartCommand(svc.Name)); err != nil {
			return commands, err
		}
	}
	if diag.HighErrors {
		if err := apply(func(s *models.Service) { s.ErrorCount = 0 }, clearLogCommand(svc.Name)); err != nil {
			return commands, err
		}
	}
	return commands, nil
}

// log appends to the sink; persistence failures are reported, not returned.
func (e *Engine) log(ctx context.Context, serviceID string, level models.LogLevel, msg string) {
	if _, err := e.deps.Logs.Record(ctx, serviceID, level, msg); err != nil {
		slog.Warn("workflow log not persisted", "component", "healing", "service_id", serviceID, "error", err)
	}
}

// uniform returns a value in [lo, hi).
func (e *Engine) uniform(lo, hi float64) float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return lo + e.rng.Float64()*(hi-lo)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func displayName(s models.Service) string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Name
}

// FinalizeDangling marks rows a previous process left in_progress as failed
// and returns how many it closed.
func (e *Engine) FinalizeDangling(ctx context.Context) int {
	n := 0
	for _, id := range e.deps.History.Dangling() {
		if _, err := e.deps.History.Finish(ctx, id, models.ResolutionFailed, nil); err != nil && !errors.Is(err, registry.ErrTerminal) {
			slog.Warn("closing interrupted workflow", "component", "healing", "workflow_id", id, "error", err)
		}
		n++
	}
	if n > 0 {
		slog.Info("closed interrupted workflows", "component", "healing", "count", n)
	}
	return n
}
