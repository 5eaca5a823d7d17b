package simulator

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/vesaa/healdash/internal/models"
)

// Per-tick volatility of each service gauge.
const (
	cpuVolatility     = 2
	memoryVolatility  = 10
	diskVolatility    = 1
	networkVolatility = 20

	// MemoryFloor is the lowest memory_usage (MB) a running service reports.
	MemoryFloor = 50
)

// Tick returns the next gauges for s. Uptime grows by the whole seconds in
// step while the service is Running and is zero otherwise; a negative step
// counts as zero. Non-finite gauges restart from their floor.
func Tick(s models.Service, r *rand.Rand, step time.Duration) models.ServicePatch {
	cpu := Walk{Value: clamp(s.CPUUsage, 0, 100), Min: 0, Max: 100, Volatility: cpuVolatility}
	mem := Walk{Value: math.Max(finite(s.MemoryUsage, MemoryFloor), MemoryFloor), Min: MemoryFloor, Max: math.Inf(1), Volatility: memoryVolatility}
	disk := Walk{Value: math.Max(finite(s.DiskIO, 0), 0), Min: 0, Max: math.Inf(1), Volatility: diskVolatility}
	net := Walk{Value: math.Max(finite(s.NetworkStats, 0), 0), Min: 0, Max: math.Inf(1), Volatility: networkVolatility}

	var uptime int64
	if s.Status == models.StatusRunning {
		uptime = max(s.Uptime, 0) + int64(max(step, 0)/time.Second)
	}
	return models.ServicePatch{
		CPUUsage:     models.Ptr(cpu.Step(r)),
		MemoryUsage:  models.Ptr(mem.Step(r)),
		DiskIO:       models.Ptr(disk.Step(r)),
		NetworkStats: models.Ptr(net.Step(r)),
		Uptime:       &uptime,
	}
}

var levelWeights = []struct {
	level  models.LogLevel
	weight float64
}{
	{models.LevelInfo, 0.60},
	{models.LevelWarning, 0.25},
	{models.LevelError, 0.12},
	{models.LevelCritical, 0.03},
}

var logMessages = map[models.LogLevel][]string{
	models.LevelInfo: {
		"Service started successfully",
		"Health check passed",
		"Configuration loaded",
		"Connection established",
		"Task completed",
		"Backup created successfully",
		"Database synchronized",
		"Cache cleared",
	},
	models.LevelWarning: {
		"High memory usage detected",
		"Response time degraded",
		"Retry attempt initiated",
		"Connection timeout, retrying",
		"Cache miss rate elevated",
		"Queue size growing",
		"Disk space running low",
	},
	models.LevelError: {
		"Failed to connect to database",
		"Service restart required",
		"Authentication failed",
		"Configuration error detected",
		"Network connection lost",
		"Resource allocation failed",
		"Access denied to resource",
	},
	models.LevelCritical: {
		"Service crashed unexpectedly",
		"Data corruption detected",
		"Security breach attempt",
		"System resources exhausted",
		"Fatal exception occurred",
		"Emergency shutdown initiated",
	},
}

// DrawLevel picks a level from the fixed INFO/WARNING/ERROR/CRITICAL weights.
func DrawLevel(r *rand.Rand) models.LogLevel {
	x := r.Float64()
	var cum float64
	for _, lw := range levelWeights {
		cum += lw.weight
		if x < cum {
			return lw.level
		}
	}
	return models.LevelInfo
}

// MaybeEmitLog returns a log for serviceID with probability p, or nil.
// When the level is ERROR or CRITICAL the caller bumps the service's error_count.
func MaybeEmitLog(r *rand.Rand, serviceID string, p float64) *models.ServiceLog {
	if r.Float64() >= p {
		return nil
	}
	level := DrawLevel(r)
	pool := logMessages[level]
	l := &models.ServiceLog{
		Level:     level,
		Message:   pool[r.IntN(len(pool))],
		Timestamp: time.Now().UTC(),
	}
	if serviceID != "" {
		l.ServiceID = &serviceID
	}
	return l
}
