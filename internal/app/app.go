// Package app assembles a healdash server from config: storage, in-memory
// state, the workflow engine, background loops and both HTTP planes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vesaa/healdash/internal/config"
	"github.com/vesaa/healdash/internal/feed"
	"github.com/vesaa/healdash/internal/healing"
	"github.com/vesaa/healdash/internal/models"
	"github.com/vesaa/healdash/internal/notify"
	"github.com/vesaa/healdash/internal/registry"
	"github.com/vesaa/healdash/internal/server"
	"github.com/vesaa/healdash/internal/simulator"
	"github.com/vesaa/healdash/internal/store"
	"github.com/vesaa/healdash/internal/tsdb"
)

const (
	shutdownTimeout = 5 * time.Second
	hubBuffer       = 256
)

// App is a fully wired server.
type App struct {
	Config    *config.Config
	Store     store.Client
	Hub       *feed.Hub
	Registry  *registry.Registry
	Logs      *registry.LogSink
	History   *registry.History
	Alerts    *registry.Alerts
	Engine    *healing.Engine
	Simulator *simulator.Simulator
	Demo      *simulator.DemoRunner
	Server    *server.Server

	influx *tsdb.InfluxSink
}

// New wires every component on top of st and restores state from it.
// On an empty store it seeds the default client, its services and the
// dashboard config. Workflows a previous process left in_progress are closed
// as failed.
func New(ctx context.Context, cfg *config.Config, st store.Client) (*App, error) {
	hub := feed.NewHub(hubBuffer)
	a := &App{
		Config:   cfg,
		Store:    st,
		Hub:      hub,
		Registry: registry.New(st, hub),
		Logs:     registry.NewLogSink(registry.DefaultLogCap, st, hub),
		History:  registry.NewHistory(st, hub),
		Alerts:   registry.NewAlerts(registry.DefaultAlertCap, hub),
		influx:   tsdb.NewInfluxSink(cfg.Influx),
	}

	if err := a.restore(ctx); err != nil {
		return nil, err
	}

	hooks := notify.NewWebhookNotifier(cfg.Notify)
	a.Engine = healing.New(healing.Deps{
		Registry:      a.Registry,
		Logs:          a.Logs,
		History:       a.History,
		Alerts:        a.Alerts,
		Notifier:      hooks,
		Config:        st,
		Defaults:      cfg.Dashboard.DashboardConfig(),
		NotifyTimeout: cfg.Notify.Timeout,
	}, cfg.Healing)
	a.Engine.FinalizeDangling(ctx)

	var exporter server.Exporter
	var demoExporter simulator.Exporter
	if a.influx != nil {
		exporter, demoExporter = a.influx, a.influx
		slog.Info("influx export enabled", "component", "db", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
	}

	a.Simulator = simulator.New(a.Registry, a.Logs, cfg.Simulator, nil)
	a.Demo = simulator.NewDemoRunner(st, st, demoExporter, hub, cfg.Simulator.DemoInterval, a.staleAfter(), nil)
	a.Server = server.New(server.Deps{
		Config:   cfg,
		Store:    st,
		Registry: a.Registry,
		Logs:     a.Logs,
		History:  a.History,
		Alerts:   a.Alerts,
		Engine:   a.Engine,
		Hooks:    hooks,
		Hub:      hub,
		Exporter: exporter,
	})
	return a, nil
}

// restore loads persisted state, seeding an empty store first.
func (a *App) restore(ctx context.Context) error {
	if err := a.seed(ctx); err != nil {
		return err
	}

	services, err := a.Store.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("loading services: %w", err)
	}
	a.Registry.UpsertMany(ctx, services)

	logs, err := a.Store.ListLogs(ctx, registry.DefaultLogCap)
	if err != nil {
		return fmt.Errorf("loading logs: %w", err)
	}
	a.Logs.Load(logs)

	workflows, err := a.Store.ListWorkflows(ctx, 0)
	if err != nil {
		return fmt.Errorf("loading workflows: %w", err)
	}
	a.History.Load(workflows)

	slog.Info("state restored", "component", "db",
		"services", len(services), "logs", len(logs), "workflows", len(workflows))
	return nil
}

// seed populates an empty store. A store with any client is left alone.
func (a *App) seed(ctx context.Context) error {
	if _, err := a.Store.GetDashboardConfig(ctx); errors.Is(err, store.ErrNotFound) {
		dc := a.Config.Dashboard.DashboardConfig()
		dc.UpdatedAt = time.Now().UTC()
		if err := a.Store.SaveDashboardConfig(ctx, &dc); err != nil {
			return fmt.Errorf("seeding dashboard config: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("reading dashboard config: %w", err)
	}

	clients, err := a.Store.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("listing clients: %w", err)
	}
	if len(clients) > 0 {
		return nil
	}

	now := time.Now().UTC()
	cl := simulator.DefaultClient(now)
	if err := a.Store.SaveClient(ctx, &cl); err != nil {
		return fmt.Errorf("seeding default client: %w", err)
	}
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	services := simulator.SeedServices(cl.ID, a.Config.Simulator.SeedServices, rng, now)
	for i := range services {
		if err := a.Store.SaveService(ctx, &services[i]); err != nil {
			return fmt.Errorf("seeding service %s: %w", services[i].Name, err)
		}
	}
	slog.Info("seeded empty store", "component", "db", "client", cl.Name, "services", len(services))
	return nil
}

// staleAfter is how long an agent may stay silent before its client is
// considered offline: three report intervals.
func (a *App) staleAfter() time.Duration {
	interval := time.Duration(a.Config.AgentInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return 3 * interval
}

// Run serves both planes and runs the background loops until ctx is done or
// a listener fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctrlAddr := fmt.Sprintf("%s:%d", a.Config.ServerHost, a.Config.ControlPort)
	dataAddr := fmt.Sprintf("%s:%d", a.Config.ServerHost, a.Config.DataPort)
	ctrlSrv := &http.Server{Addr: ctrlAddr, Handler: a.Server.ControlHandler(), ReadHeaderTimeout: 10 * time.Second}
	dataSrv := &http.Server{Addr: dataAddr, Handler: a.Server.DataHandler(), ReadHeaderTimeout: 10 * time.Second}

	slog.Info("starting", append([]any{"component", "api"}, a.Stats()...)...)

	g, ctx := errgroup.WithContext(ctx)
	serve := func(name string, srv *http.Server) {
		g.Go(func() error {
			slog.Info("listening", "component", "api", "plane", name, "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s plane: %w", name, err)
			}
			return nil
		})
	}
	serve("control", ctrlSrv)
	serve("data", dataSrv)

	loop := func(fn func(context.Context)) {
		g.Go(func() error {
			fn(ctx)
			return nil
		})
	}
	if a.Config.Simulator.Enabled {
		loop(a.Simulator.Run)
	}
	if a.Config.Simulator.DemoEnabled {
		loop(a.Demo.Run)
	}
	loop(a.Engine.RunAuto)
	loop(func(ctx context.Context) { a.Server.RunSweeper(ctx, a.staleAfter()/3, a.staleAfter()) })

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down", "component", "api")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(ctrlSrv.Shutdown(sctx), dataSrv.Shutdown(sctx))
	})
	return g.Wait()
}

// Close releases the store and the Influx client.
func (a *App) Close() error {
	if a.influx != nil {
		a.influx.Close()
	}
	return a.Store.Close()
}

// Stats summarizes the in-memory state for the startup log.
func (a *App) Stats() []any {
	running := 0
	for _, s := range a.Registry.GetAll() {
		if s.Status == models.StatusRunning {
			running++
		}
	}
	return []any{
		"services", a.Registry.Len(),
		"running", running,
		"logs", a.Logs.Len(),
		"workflows", len(a.History.List(0)),
	}
}
