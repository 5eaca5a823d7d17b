package simulator

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/vesaa/healdash/internal/config"
	"github.com/vesaa/healdash/internal/feed"
	"github.com/vesaa/healdash/internal/models"
	"github.com/vesaa/healdash/internal/registry"
)

// Simulator drives the service registry on a fixed tick.
type Simulator struct {
	reg  *registry.Registry
	logs *registry.LogSink
	cfg  config.SimulatorConfig

	mu    sync.Mutex // guards rng and carry
	rng   *rand.Rand
	carry map[string]time.Duration // sub-second uptime not yet credited, per service
}

// New returns a Simulator. A nil rng gets a randomly seeded one.
func New(reg *registry.Registry, logs *registry.LogSink, cfg config.SimulatorConfig, rng *rand.Rand) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Simulator{reg: reg, logs: logs, cfg: cfg, rng: rng, carry: make(map[string]time.Duration)}
}

// TickAll advances every service once and may append synthetic logs.
// Each service is updated through Registry.Mutate so a concurrent
// remediation never interleaves with the drift.
func (s *Simulator) TickAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, svc := range s.reg.GetAll() {
		var emitted *models.ServiceLog
		_, ok := s.reg.Mutate(ctx, svc.ID, func(cur *models.Service) {
			Tick(*cur, s.rng, s.elapsed(cur)).Apply(cur)
			emitted = MaybeEmitLog(s.rng, cur.ID, s.cfg.LogProbability)
			if emitted != nil && emitted.Level.IsError() {
				cur.ErrorCount++
			}
		})
		if !ok {
			delete(s.carry, svc.ID) // removed since GetAll
			continue
		}
		ticksTotal.Inc()
		if emitted == nil {
			continue
		}
		logsTotal.WithLabelValues(string(emitted.Level)).Inc()
		if _, err := s.logs.Append(ctx, *emitted); err != nil {
			slog.Warn("synthetic log not persisted", "component", "simulator", "error", err)
		}
	}
}

// elapsed is the uptime one tick credits to cur: cfg.Interval plus any
// remainder left by earlier ticks, truncated to whole seconds. A service that
// is not Running drops its remainder. Callers hold s.mu.
func (s *Simulator) elapsed(cur *models.Service) time.Duration {
	if cur.Status != models.StatusRunning {
		delete(s.carry, cur.ID)
		return 0
	}
	acc := s.carry[cur.ID] + s.cfg.Interval
	whole := acc.Truncate(time.Second)
	s.carry[cur.ID] = acc - whole
	return whole
}

// Run ticks every cfg.Interval until ctx is done.
func (s *Simulator) Run(ctx context.Context) {
	slog.Info("service simulator started", "component", "simulator", "interval", s.cfg.Interval)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.TickAll(ctx)
		}
	}
}

// ClientLister is the part of the store the demo loop reads.
type ClientLister interface {
	ListClients(ctx context.Context) ([]models.Client, error)
}

// MetricsWriter persists one host sample.
type MetricsWriter interface {
	InsertSystemMetrics(ctx context.Context, m *models.SystemMetrics) error
}

// Exporter ships samples to an external time-series database.
type Exporter interface {
	WriteSystemMetrics(ctx context.Context, m models.SystemMetrics) error
}

// DemoRunner emits demo host telemetry for every client without a live agent.
type DemoRunner struct {
	clients  ClientLister
	writer   MetricsWriter
	exporter Exporter // optional
	pub      feed.Publisher
	interval time.Duration
	// staleAfter is how long since an agent report a client counts as agentless.
	staleAfter time.Duration

	mu   sync.Mutex
	gens map[string]*DemoGenerator
	rng  *rand.Rand
}

// NewDemoRunner wires the demo loop. exporter and pub may be nil.
func NewDemoRunner(clients ClientLister, writer MetricsWriter, exporter Exporter, pub feed.Publisher, interval, staleAfter time.Duration, rng *rand.Rand) *DemoRunner {
	if pub == nil {
		pub = feed.Discard
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &DemoRunner{
		clients:    clients,
		writer:     writer,
		exporter:   exporter,
		pub:        pub,
		interval:   interval,
		staleAfter: staleAfter,
		gens:       make(map[string]*DemoGenerator),
		rng:        rng,
	}
}

// EmitAll produces one sample per agentless client and returns how many
// were written. Generators for deleted clients are dropped.
func (d *DemoRunner) EmitAll(ctx context.Context) int {
	clients, err := d.clients.ListClients(ctx)
	if err != nil {
		slog.Warn("demo: listing clients failed", "component", "simulator", "error", err)
		return 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[string]bool, len(clients))
	written := 0
	for _, c := range clients {
		seen[c.ID] = true
		if hasLiveAgent(c, d.staleAfter) {
			continue
		}
		gen, ok := d.gens[c.ID]
		if !ok {
			seed := rand.New(rand.NewPCG(d.rng.Uint64(), d.rng.Uint64()))
			gen, err = NewDemoGenerator(c.ID, seed, DefaultDemoOptions())
			if err != nil {
				slog.Error("demo: generator rejected", "component", "simulator", "client_id", c.ID, "error", err)
				continue
			}
			d.gens[c.ID] = gen
		}

		m := gen.Next()
		if err := d.writer.InsertSystemMetrics(ctx, &m); err != nil {
			demoSamplesTotal.WithLabelValues("error").Inc()
			slog.Warn("demo: sample not persisted", "component", "simulator", "client_id", c.ID, "error", err)
			continue
		}
		if d.exporter != nil {
			if err := d.exporter.WriteSystemMetrics(ctx, m); err != nil {
				slog.Warn("demo: export failed", "component", "simulator", "client_id", c.ID, "error", err)
			}
		}
		d.pub.Publish(feed.KindMetrics, m)
		demoSamplesTotal.WithLabelValues("ok").Inc()
		written++
	}
	for id := range d.gens {
		if !seen[id] {
			delete(d.gens, id)
		}
	}
	return written
}

// hasLiveAgent reports whether an agent reported for c within staleAfter.
// Clients that never saw an agent have a zero LastSeen.
func hasLiveAgent(c models.Client, staleAfter time.Duration) bool {
	return !c.LastSeen.IsZero() && time.Since(c.LastSeen) < staleAfter
}

// Run emits immediately and then every interval until ctx is done.
func (d *DemoRunner) Run(ctx context.Context) {
	slog.Info("demo telemetry started", "component", "simulator", "interval", d.interval)
	d.EmitAll(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.EmitAll(ctx)
		}
	}
}
