package simulator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/vesaa/healdash/internal/models"
)

// DemoOptions describe the simulated host.
type DemoOptions struct {
	RAMTotal float64            // MB
	Drives   []models.DriveInfo // only Name and Total are read
}

// DefaultDemoOptions is a 16 GB host with a 500 GB C: and a 1 TB D: drive.
func DefaultDemoOptions() DemoOptions {
	return DemoOptions{
		RAMTotal: 16384,
		Drives: []models.DriveInfo{
			{Name: "C:", Total: 512000},
			{Name: "D:", Total: 1024000},
		},
	}
}

// DemoGenerator emits host telemetry for one client. Every metric has a
// persistent base value doing a slow random walk; each reading adds a little
// noise on top, so charts show trends over minutes rather than pure noise.
type DemoGenerator struct {
	clientID string
	rng      *rand.Rand
	ramTotal float64

	cpu, gpu, ram    *Walk // percent
	upload, download *Walk // KB/s
	drives           []models.DriveInfo
	driveUsed        []*Walk
}

// NewDemoGenerator validates opts and seeds the base values.
func NewDemoGenerator(clientID string, rng *rand.Rand, opts DemoOptions) (*DemoGenerator, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: empty client id", ErrInvalidBounds)
	}
	if !(opts.RAMTotal > 0) || math.IsInf(opts.RAMTotal, 0) {
		return nil, fmt.Errorf("%w: ram total %g", ErrInvalidBounds, opts.RAMTotal)
	}
	g := &DemoGenerator{clientID: clientID, rng: rng, ramTotal: opts.RAMTotal}

	var err error
	walks := []struct {
		dst                    **Walk
		start, min, max, volat float64
	}{
		{&g.cpu, 30 + rng.Float64()*20, 10, 90, 5},
		{&g.gpu, 20 + rng.Float64()*30, 5, 85, 5},
		{&g.ram, 40 + rng.Float64()*20, 30, 85, 5},
		{&g.upload, 1000 + rng.Float64()*5000, 500, 15000, 500},
		{&g.download, 5000 + rng.Float64()*10000, 2000, 30000, 800},
	}
	for _, w := range walks {
		if *w.dst, err = NewWalk(w.start, w.min, w.max, w.volat); err != nil {
			return nil, err
		}
	}

	for _, d := range opts.Drives {
		if !(d.Total > 0) || math.IsInf(d.Total, 0) {
			return nil, fmt.Errorf("%w: drive %s total %g", ErrInvalidBounds, d.Name, d.Total)
		}
		used, err := NewWalk(d.Total*(0.5+rng.Float64()*0.1), 0, d.Total, d.Total*0.002)
		if err != nil {
			return nil, err
		}
		drive := models.DriveInfo{Name: d.Name, Total: d.Total}
		drive.SetUsed(used.Value)
		g.drives = append(g.drives, drive)
		g.driveUsed = append(g.driveUsed, used)
	}
	return g, nil
}

// ClientID returns the client this generator reports for.
func (g *DemoGenerator) ClientID() string { return g.clientID }

// Next advances every base value and returns one sample.
func (g *DemoGenerator) Next() models.SystemMetrics {
	cpu := g.reading(g.cpu, 0, 100)
	gpu := g.reading(g.gpu, 0, 100)
	ram := g.reading(g.ram, 0, 100)
	up := g.reading(g.upload, 0, math.Inf(1))
	down := g.reading(g.download, 0, math.Inf(1))

	drives := make([]models.DriveInfo, len(g.drives))
	for i := range g.drives {
		g.drives[i].SetUsed(g.driveUsed[i].Step(g.rng))
		drives[i] = g.drives[i]
	}

	gpuUsage := round1(gpu)
	return models.SystemMetrics{
		ID:              uuid.NewString(),
		ClientID:        g.clientID,
		CPUUsage:        round1(cpu),
		GPUUsage:        &gpuUsage,
		RAMUsage:        math.Round(ram / 100 * g.ramTotal),
		RAMTotal:        g.ramTotal,
		Drives:          drives,
		NetworkUpload:   math.Round(up),
		NetworkDownload: math.Round(down),
		Timestamp:       time.Now().UTC(),
	}
}

// reading steps the base walk and adds noise of a fifth of its volatility.
func (g *DemoGenerator) reading(base *Walk, lo, hi float64) float64 {
	v := base.Step(g.rng)
	noise := (g.rng.Float64() - 0.5) * base.Volatility / 5
	return clamp(v+noise, lo, hi)
}
