package simulator

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vesaa/healdash/internal/config"
	"github.com/vesaa/healdash/internal/models"
	"github.com/vesaa/healdash/internal/registry"
	"github.com/vesaa/healdash/internal/store"
)

func testRand() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func TestNewWalkRejectsBadBounds(t *testing.T) {
	cases := []struct {
		name                 string
		value, lo, hi, volat float64
	}{
		{"negative max", 0, 0, -1, 1},
		{"negative min", 0, -5, 10, 1},
		{"inverted", 5, 10, 1, 1},
		{"negative volatility", 5, 0, 10, -1},
		{"nan", math.NaN(), 0, 10, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewWalk(tc.value, tc.lo, tc.hi, tc.volat)
			assert.ErrorIs(t, err, ErrInvalidBounds)
		})
	}

	w, err := NewWalk(150, 0, 100, 2)
	require.NoError(t, err)
	assert.Equal(t, 100.0, w.Value)
}

func TestWalkStaysInBounds(t *testing.T) {
	r := testRand()
	w, err := NewWalk(1, 0, 10, 8)
	require.NoError(t, err)
	for i := 0; i < 10000; i++ {
		v := w.Step(r)
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 10.0)
	}
}

func TestWalkStepIsSmall(t *testing.T) {
	r := testRand()
	w, err := NewWalk(50, 0, 100, 2)
	require.NoError(t, err)
	prev := w.Value
	for i := 0; i < 1000; i++ {
		v := w.Step(r)
		require.LessOrEqual(t, math.Abs(v-prev), 1.0)
		prev = v
	}
}

func TestTickBounds(t *testing.T) {
	r := testRand()
	s := models.Service{Status: models.StatusRunning, CPUUsage: 99.9, MemoryUsage: 50.1, DiskIO: 0.1, NetworkStats: 0.1}
	for i := 0; i < 5000; i++ {
		Tick(s, r, 5*time.Second).Apply(&s)
		require.GreaterOrEqual(t, s.CPUUsage, 0.0)
		require.LessOrEqual(t, s.CPUUsage, 100.0)
		require.GreaterOrEqual(t, s.MemoryUsage, float64(MemoryFloor))
		require.GreaterOrEqual(t, s.DiskIO, 0.0)
		require.GreaterOrEqual(t, s.NetworkStats, 0.0)
	}
	assert.Equal(t, int64(5000*5), s.Uptime)
}

func TestTickOutOfRangeInputIsClamped(t *testing.T) {
	p := Tick(models.Service{CPUUsage: 400, MemoryUsage: -3, DiskIO: -1}, testRand(), time.Second)
	assert.LessOrEqual(t, *p.CPUUsage, 100.0)
	assert.GreaterOrEqual(t, *p.MemoryUsage, float64(MemoryFloor))
	assert.GreaterOrEqual(t, *p.DiskIO, 0.0)
}

func TestTickNonFiniteInputRestartsAtFloor(t *testing.T) {
	in := models.Service{CPUUsage: math.NaN(), MemoryUsage: math.Inf(1), DiskIO: math.NaN(), NetworkStats: math.Inf(-1)}
	p := Tick(in, testRand(), time.Second)
	for _, v := range []float64{*p.CPUUsage, *p.MemoryUsage, *p.DiskIO, *p.NetworkStats} {
		require.False(t, math.IsNaN(v) || math.IsInf(v, 0), v)
	}
	assert.LessOrEqual(t, *p.CPUUsage, 100.0)
	assert.GreaterOrEqual(t, *p.MemoryUsage, float64(MemoryFloor))
	assert.LessOrEqual(t, *p.MemoryUsage, float64(MemoryFloor)+memoryVolatility)
}

func TestTickNegativeStepNeverShrinksUptime(t *testing.T) {
	p := Tick(models.Service{Status: models.StatusRunning, Uptime: 3}, testRand(), -5*time.Second)
	assert.Equal(t, int64(3), *p.Uptime)
}

func TestTickStoppedResetsUptime(t *testing.T) {
	for _, st := range []models.ServiceStatus{models.StatusStopped, models.StatusPaused} {
		p := Tick(models.Service{Status: st, Uptime: 3600}, testRand(), 5*time.Second)
		assert.Equal(t, int64(0), *p.Uptime, st)
	}
}

func TestDrawLevelDistribution(t *testing.T) {
	r := testRand()
	const n = 100000
	counts := map[models.LogLevel]int{}
	for i := 0; i < n; i++ {
		counts[DrawLevel(r)]++
	}
	assert.InDelta(t, 0.60, float64(counts[models.LevelInfo])/n, 0.01)
	assert.InDelta(t, 0.25, float64(counts[models.LevelWarning])/n, 0.01)
	assert.InDelta(t, 0.12, float64(counts[models.LevelError])/n, 0.01)
	assert.InDelta(t, 0.03, float64(counts[models.LevelCritical])/n, 0.005)
}

func TestMaybeEmitLog(t *testing.T) {
	r := testRand()
	assert.Nil(t, MaybeEmitLog(r, "svc", 0))

	l := MaybeEmitLog(r, "svc", 1)
	require.NotNil(t, l)
	require.NotNil(t, l.ServiceID)
	assert.Equal(t, "svc", *l.ServiceID)
	assert.True(t, l.Level.Valid())
	assert.Contains(t, logMessages[l.Level], l.Message)

	emitted := 0
	for i := 0; i < 20000; i++ {
		if MaybeEmitLog(r, "", 0.15) != nil {
			emitted++
		}
	}
	assert.InDelta(t, 0.15, float64(emitted)/20000, 0.015)
}

func TestSeedServices(t *testing.T) {
	now := time.Now()
	svcs := SeedServices("c1", 20, testRand(), now)
	require.Len(t, svcs, len(windowsServices))
	ids := map[string]bool{}
	for _, s := range svcs {
		assert.Equal(t, "c1", s.ClientID)
		assert.True(t, s.Status.Valid())
		assert.False(t, ids[s.ID])
		ids[s.ID] = true
		if s.Status != models.StatusRunning {
			assert.Zero(t, s.Uptime)
		}
	}
	assert.Equal(t, "wuauserv", svcs[0].Name)
	assert.True(t, svcs[0].CreatedAt.Before(svcs[1].CreatedAt))
}

func TestDemoGeneratorRejectsBadOptions(t *testing.T) {
	_, err := NewDemoGenerator("c", testRand(), DemoOptions{RAMTotal: 0})
	assert.ErrorIs(t, err, ErrInvalidBounds)

	_, err = NewDemoGenerator("c", testRand(), DemoOptions{RAMTotal: 1024, Drives: []models.DriveInfo{{Name: "C:", Total: 0}}})
	assert.ErrorIs(t, err, ErrInvalidBounds)

	_, err = NewDemoGenerator("", testRand(), DefaultDemoOptions())
	assert.ErrorIs(t, err, ErrInvalidBounds)
}

func TestDemoGeneratorInvariants(t *testing.T) {
	g, err := NewDemoGenerator("c1", testRand(), DefaultDemoOptions())
	require.NoError(t, err)
	for i := 0; i < 2000; i++ {
		m := g.Next()
		require.Equal(t, "c1", m.ClientID)
		require.GreaterOrEqual(t, m.CPUUsage, 0.0)
		require.LessOrEqual(t, m.CPUUsage, 100.0)
		require.NotNil(t, m.GPUUsage)
		require.LessOrEqual(t, m.RAMUsage, m.RAMTotal)
		require.GreaterOrEqual(t, m.NetworkUpload, 0.0)
		require.Len(t, m.Drives, 2)
		for _, d := range m.Drives {
			require.InDelta(t, d.Total, d.Used+d.Free, 1e-6)
			require.InDelta(t, d.Used/d.Total*100, d.Percentage, 1e-9)
		}
	}
}

func TestDemoGeneratorTrends(t *testing.T) {
	g, err := NewDemoGenerator("c1", testRand(), DefaultDemoOptions())
	require.NoError(t, err)
	prev := g.Next().CPUUsage
	for i := 0; i < 500; i++ {
		cur := g.Next().CPUUsage
		require.LessOrEqual(t, math.Abs(cur-prev), 6.0)
		prev = cur
	}
}

func TestSimulatorTickAll(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(nil, nil)
	logs := registry.NewLogSink(registry.DefaultLogCap, nil, nil)
	reg.UpsertMany(ctx, []models.Service{
		{ID: "run", Status: models.StatusRunning, CPUUsage: 20, MemoryUsage: 300},
		{ID: "stop", Status: models.StatusStopped, Uptime: 999, MemoryUsage: 300},
	})

	cfg := config.SimulatorConfig{Interval: 5 * time.Second, LogProbability: 1}
	sim := New(reg, logs, cfg, testRand())
	for i := 0; i < 50; i++ {
		sim.TickAll(ctx)
	}

	run, _ := reg.Get("run")
	stop, _ := reg.Get("stop")
	assert.Equal(t, int64(250), run.Uptime)
	assert.Zero(t, stop.Uptime)
	assert.Equal(t, 100, logs.Len())

	errorLogs := map[string]int{}
	for _, l := range logs.List(0) {
		if l.Level.IsError() {
			errorLogs[*l.ServiceID]++
		}
	}
	assert.Equal(t, errorLogs["run"], run.ErrorCount)
	assert.Equal(t, errorLogs["stop"], stop.ErrorCount)
}

func TestSimulatorSubSecondTicksAccumulate(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(nil, nil)
	logs := registry.NewLogSink(registry.DefaultLogCap, nil, nil)
	reg.UpsertMany(ctx, []models.Service{
		{ID: "run", Status: models.StatusRunning, Uptime: 100, MemoryUsage: 300},
	})

	sim := New(reg, logs, config.SimulatorConfig{Interval: 500 * time.Millisecond}, testRand())
	for i := 0; i < 10; i++ {
		sim.TickAll(ctx)
	}
	run, _ := reg.Get("run")
	assert.Equal(t, int64(105), run.Uptime)

	sim.TickAll(ctx)
	run, _ = reg.Get("run")
	assert.Equal(t, int64(105), run.Uptime, "half a second is held back")

	reg.Patch(ctx, "run", models.ServicePatch{Status: models.Ptr(models.StatusStopped)})
	sim.TickAll(ctx)
	reg.Patch(ctx, "run", models.ServicePatch{Status: models.Ptr(models.StatusRunning)})
	sim.TickAll(ctx)
	run, _ = reg.Get("run")
	assert.Zero(t, run.Uptime, "a stop drops the held-back remainder")
}

type recordingExporter struct {
	mu  sync.Mutex
	got []models.SystemMetrics
	err error
}

func (e *recordingExporter) WriteSystemMetrics(_ context.Context, m models.SystemMetrics) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, m)
	return e.err
}

func TestDemoRunnerSkipsLiveAgents(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	now := time.Now()
	require.NoError(t, ms.SaveClient(ctx, &models.Client{ID: "demo", CreatedAt: now}))
	require.NoError(t, ms.SaveClient(ctx, &models.Client{ID: "agent", Status: models.ClientOnline, LastSeen: now, CreatedAt: now}))

	exp := &recordingExporter{err: errors.New("influx down")}
	d := NewDemoRunner(ms, ms, exp, nil, time.Second, time.Minute, testRand())
	assert.Equal(t, 1, d.EmitAll(ctx))
	assert.Equal(t, 1, d.EmitAll(ctx))

	demo, err := ms.ListSystemMetrics(ctx, "demo", 0)
	require.NoError(t, err)
	assert.Len(t, demo, 2)
	agent, err := ms.ListSystemMetrics(ctx, "agent", 0)
	require.NoError(t, err)
	assert.Empty(t, agent)
	assert.Len(t, exp.got, 2)

	require.NoError(t, ms.DeleteClient(ctx, "demo"))
	assert.Equal(t, 0, d.EmitAll(ctx))
	assert.Empty(t, d.gens)
}
